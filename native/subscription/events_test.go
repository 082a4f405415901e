package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tally/core/events"
)

func TestEventsRenderWireForm(t *testing.T) {
	agreement, payer := testAddr(0x11), testAddr(0x12)
	evt := PaymentExecuted{
		Agreement: agreement, Payer: payer, Amount: 10_000_000,
		KeeperFee: 50_000, PlatformFee: 150_000, PayeeShare: 9_800_000, PaymentCount: 2,
	}
	wire := events.Wire(evt)
	require.NotNil(t, wire)
	require.Equal(t, EventTypePaymentExecuted, wire.Type)
	require.Equal(t, agreement.String(), wire.Attributes["agreement"])
	require.Equal(t, "50000", wire.Attributes["keeperFee"])
	require.Equal(t, "", wire.Attributes["keeper"])

	warning := events.Wire(LowAllowanceWarning{Agreement: agreement, Remaining: 1, Required: 20})
	require.Equal(t, "1", warning.Attributes["remaining"])
	require.Equal(t, "20", warning.Attributes["required"])
}

func TestEngineFeedsEventLog(t *testing.T) {
	f := newFixture(t)
	log := events.NewLog(0)
	f.engine.SetEmitter(events.Multi{log, f.rec})

	at := f.start()
	f.now = testStart + testPeriod
	_, err := f.execute(at)
	require.NoError(t, err)

	records := log.Since(0, 0)
	require.NotEmpty(t, records)
	var types []string
	for i, rec := range records {
		require.Equal(t, uint64(i+1), rec.Sequence)
		types = append(types, rec.Event.Type)
	}
	require.Contains(t, types, EventTypeAgreementStarted)
	require.Equal(t, EventTypePaymentExecuted, types[len(types)-2])
	require.Equal(t, EventTypeLowAllowanceWarning, types[len(types)-1])
}
