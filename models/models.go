package models

// Account is a registered user. Username and Phone are each unique
// across all accounts; Secret is opaque credential material whose
// interpretation belongs to the store's credential scheme.
type Account struct {
	ID       int64
	Country  string
	Phone    string
	Username string
	Secret   string
}

// PendingMessage is a message persisted because it could not be
// delivered at send time. Delivered flips false->true exactly once;
// rows are never deleted and serve as delivery history.
type PendingMessage struct {
	ID        int64
	Sender    string
	Recipient string
	Body      string
	SentAt    string // client-supplied or server-stamped, stored verbatim
	Delivered bool
}
