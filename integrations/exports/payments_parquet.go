package exports

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tally/integrations/eventstore"
)

type parquetRow struct {
	Seq          int64  `parquet:"name=seq, type=INT64"`
	Agreement    string `parquet:"name=agreement, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payer        string `parquet:"name=payer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payee        string `parquet:"name=payee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Keeper       string `parquet:"name=keeper, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount       string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	KeeperFee    string `parquet:"name=keeper_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	PlatformFee  string `parquet:"name=platform_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	PayeeShare   string `parquet:"name=payee_share, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaymentCount int64  `parquet:"name=payment_count, type=INT64"`
	PaidAt       string `parquet:"name=paid_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toParquetRow(row map[string]string) (*parquetRow, error) {
	seq, err := strconv.ParseInt(row["seq"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("exports: seq: %w", err)
	}
	var count int64
	if v := row["payment_count"]; v != "" {
		if count, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("exports: payment_count: %w", err)
		}
	}
	return &parquetRow{
		Seq:          seq,
		Agreement:    row["agreement"],
		Payer:        row["payer"],
		Payee:        row["payee"],
		Keeper:       row["keeper"],
		Amount:       row["amount"],
		KeeperFee:    row["keeper_fee"],
		PlatformFee:  row["platform_fee"],
		PayeeShare:   row["payee_share"],
		PaymentCount: count,
		PaidAt:       row["paid_at"],
	}, nil
}

// PaymentsParquet builds a Snappy-compressed Parquet export of executed
// payments and returns the file bytes alongside their checksum. Amounts stay
// decimal strings so no uint64 value is truncated.
func PaymentsParquet(entries []eventstore.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(buffer), new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		row, ok, err := paymentRow(entry)
		if err != nil {
			_ = pw.WriteStop()
			return nil, "", err
		}
		if !ok {
			continue
		}
		pr, err := toParquetRow(row)
		if err != nil {
			_ = pw.WriteStop()
			return nil, "", err
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
