package exports

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"tally/integrations/eventstore"
	"tally/native/subscription"
)

func sampleEntries(t *testing.T) []eventstore.Entry {
	t.Helper()
	payment := subscription.PaymentExecuted{Amount: 1000, KeeperFee: 5, PlatformFee: 15, PayeeShare: 980, PaymentCount: 2, PaidAt: 1700}
	payment.Agreement[0] = 1
	raw, err := json.Marshal(payment.Event().Attributes)
	require.NoError(t, err)
	return []eventstore.Entry{
		{Seq: 7, Type: subscription.EventTypePaymentExecuted, Attributes: string(raw), EmittedAt: time.Unix(1700, 0)},
		{Seq: 8, Type: subscription.EventTypeAgreementPaused, Attributes: `{"agreement":"x"}`},
	}
}

func TestPaymentsCSV(t *testing.T) {
	data, sum, err := PaymentsCSV(sampleEntries(t))
	require.NoError(t, err)
	require.Len(t, sum, 64)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, paymentColumns, rows[0])
	require.Equal(t, "7", rows[1][0])
	require.Equal(t, "1000", rows[1][5])
	require.Equal(t, "980", rows[1][8])
	require.Equal(t, "1700", rows[1][10])
}

func TestPaymentsJSONL(t *testing.T) {
	data, sum, err := PaymentsJSONL(sampleEntries(t))
	require.NoError(t, err)
	require.NotEmpty(t, sum)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	var row map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	require.Equal(t, "15", row["platform_fee"])
	require.Equal(t, "2", row["payment_count"])
}

func TestPaymentsParquetRoundTrip(t *testing.T) {
	data, sum, err := PaymentsParquet(sampleEntries(t))
	require.NoError(t, err)
	require.Equal(t, checksum(data), sum)

	path := filepath.Join(t.TempDir(), "payments.parquet")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	file, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer file.Close()
	pr, err := reader.NewParquetReader(file, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(1), pr.GetNumRows())
	rows := make([]parquetRow, 1)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(7), rows[0].Seq)
	require.Equal(t, "1000", rows[0].Amount)
	require.Equal(t, "980", rows[0].PayeeShare)
	require.Equal(t, int64(2), rows[0].PaymentCount)
	require.Equal(t, "1700", rows[0].PaidAt)
}

func TestChecksumStable(t *testing.T) {
	a, sumA, err := PaymentsJSONL(sampleEntries(t))
	require.NoError(t, err)
	b, sumB, err := PaymentsJSONL(sampleEntries(t))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, sumA, sumB)
}

func TestPaymentsRejectsCorruptAttributes(t *testing.T) {
	_, _, err := PaymentsCSV([]eventstore.Entry{{Type: subscription.EventTypePaymentExecuted, Attributes: "{"}})
	require.Error(t, err)
}
