package storage

type Store string

func (s Store) String() string {
	return string(s)
}

const (
	// ApprovalRecordsStore holds records of push-auth approval requests the
	// user has already responded to.
	ApprovalRecordsStore Store = "approval_records"
)
