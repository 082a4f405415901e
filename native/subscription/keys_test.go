package subscription

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivedAddressesAreDistinct(t *testing.T) {
	authority := testAddr(0x01)
	payee := PayeeAddress(authority)
	terms, err := TermsAddress(payee, "gold")
	require.NoError(t, err)
	other, err := TermsAddress(payee, "silver")
	require.NoError(t, err)
	agreement := AgreementAddress(terms, testAddr(0x02))

	seen := map[string]bool{}
	for _, a := range []string{
		ConfigAddress().String(), payee.String(), terms.String(), other.String(),
		agreement.String(), DelegateAddress().String(), ProgramAddress.String(),
	} {
		require.False(t, seen[a], "duplicate %s", a)
		seen[a] = true
	}
	require.Equal(t, payee, PayeeAddress(authority))
	require.Equal(t, agreement, AgreementAddress(terms, testAddr(0x02)))
	require.NotEqual(t, agreement, AgreementAddress(testAddr(0x02), terms))
}

func TestValidateTermsID(t *testing.T) {
	require.NoError(t, ValidateTermsID("Pro_monthly-2024"))

	cases := []string{"", strings.Repeat("a", MaxTermsIDLength+1), "with space", "emoji☃", "semi;colon"}
	for _, id := range cases {
		err := ValidateTermsID(id)
		require.ErrorIs(t, err, ErrInvalidParameter, id)
		var param *InvalidParameter
		require.True(t, errors.As(err, &param))
		require.Equal(t, "terms_id", param.Field)
	}
}
