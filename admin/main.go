// Command admin is the administrative collaborator: it reads and
// mutates the persisted user table directly, bypassing the wire
// protocol. The routing core tolerates accounts disappearing
// underneath it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"privchat/db"
)

func main() {
	dbPath := flag.String("db", envOr("PRIVCHAT_DB_PATH", "users.db"), "path to the server database")
	deleteUser := flag.String("delete", "", "delete the account with this username and exit")
	watch := flag.Duration("watch", 0, "re-list accounts at this interval (e.g. 3s); 0 lists once")
	flag.Parse()

	database, err := db.New(*dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if *deleteUser != "" {
		if err := database.DeleteAccount(*deleteUser); err != nil {
			log.Fatalf("Failed to delete %q: %v", *deleteUser, err)
		}
		fmt.Printf("User %q removed\n", *deleteUser)
		return
	}

	for {
		if err := listAccounts(database); err != nil {
			log.Fatalf("Failed to list accounts: %v", err)
		}
		if *watch <= 0 {
			return
		}
		time.Sleep(*watch)
	}
}

func listAccounts(database *db.DB) error {
	accounts, err := database.ListAccounts()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PHONE\tUSERNAME\tSECRET")
	for _, a := range accounts {
		phone := a.Phone
		if a.Country != "" {
			phone = a.Country + " " + a.Phone
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", phone, a.Username, a.Secret)
	}
	return w.Flush()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
