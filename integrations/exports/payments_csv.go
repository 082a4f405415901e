// Package exports renders archived payment history for merchant settlement.
package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"time"

	"lukechampine.com/blake3"

	"tally/integrations/eventstore"
)

var paymentColumns = []string{
	"seq", "agreement", "payer", "payee", "keeper", "amount",
	"keeper_fee", "platform_fee", "payee_share", "payment_count", "paid_at",
}

// checksum is the hex BLAKE3-256 digest of an export payload.
func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func paidAt(attrs map[string]string, entry eventstore.Entry) string {
	if v := attrs["paidAt"]; v != "" {
		return v
	}
	return entry.EmittedAt.UTC().Format(time.RFC3339)
}

// PaymentsCSV builds a CSV export of executed payments and returns the
// serialised data alongside its checksum. Entries of other types are skipped.
func PaymentsCSV(entries []eventstore.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(paymentColumns); err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		row, ok, err := paymentRow(entry)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		record := make([]string, len(paymentColumns))
		for i, column := range paymentColumns {
			record[i] = row[column]
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
