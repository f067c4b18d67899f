package tableencryption

import "crypto/sha256"

// ColumnIV derives the IV for one encrypted property from the row's content
// IV: the first 16 bytes of SHA-256(contentIV || rowKey+partitionKey+column).
//
// The identity string puts the row key first and uses the partition key as
// the separator between it and the column name. Rows written by the .NET
// client use exactly this order; changing it makes them unreadable.
func ColumnIV(contentIV []byte, partitionKey, rowKey, column string) []byte {
	h := sha256.New()
	h.Write(contentIV)
	h.Write([]byte(columnIdentity(partitionKey, rowKey, column)))
	return h.Sum(nil)[:ivSize]
}

func columnIdentity(partitionKey, rowKey, column string) string {
	return rowKey + partitionKey + column
}
