package exports

import (
	"bytes"
	"encoding/json"
	"strconv"

	"tally/integrations/eventstore"
	"tally/native/subscription"
)

func paymentRow(entry eventstore.Entry) (map[string]string, bool, error) {
	if entry.Type != subscription.EventTypePaymentExecuted {
		return nil, false, nil
	}
	attrs, err := entry.Attrs()
	if err != nil {
		return nil, false, err
	}
	return map[string]string{
		"seq":           strconv.FormatUint(entry.Seq, 10),
		"agreement":     attrs["agreement"],
		"payer":         attrs["payer"],
		"payee":         attrs["payee"],
		"keeper":        attrs["keeper"],
		"amount":        attrs["amount"],
		"keeper_fee":    attrs["keeperFee"],
		"platform_fee":  attrs["platformFee"],
		"payee_share":   attrs["payeeShare"],
		"payment_count": attrs["paymentCount"],
		"paid_at":       paidAt(attrs, entry),
	}, true, nil
}

// PaymentsJSONL builds a JSON Lines export of executed payments and returns
// the serialised payload alongside its checksum.
func PaymentsJSONL(entries []eventstore.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, entry := range entries {
		row, ok, err := paymentRow(entry)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		if err := encoder.Encode(row); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
