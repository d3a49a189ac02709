package holds

const TopicHoldNotices = "library.hold.notices"

// Partition key = book_id so notices for one copy stay ordered.
func PartitionKey(bookID string) []byte { return []byte(bookID) }
