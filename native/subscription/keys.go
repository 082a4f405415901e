package subscription

import (
	"fmt"

	"tally/crypto"
)

// ProgramAddress owns every record and the shared delegate of the
// subscription program.
var ProgramAddress = crypto.MustDerive(crypto.ZeroAddress, "program", []byte("subscription"))

const (
	seedConfig    = "config"
	seedPayee     = "payee"
	seedTerms     = "terms"
	seedAgreement = "agreement"
	seedDelegate  = "delegate"
)

var (
	indexTermsByPayee      = []byte("subscription/index/terms/")
	indexAgreementsByTerms = []byte("subscription/index/agreements/")
	indexAgreementsByPayer = []byte("subscription/index/payer/")
	indexAllAgreements     = []byte("subscription/index/all")
)

// ConfigAddress returns the address of the config singleton.
func ConfigAddress() crypto.Address {
	return crypto.MustDerive(ProgramAddress, seedConfig)
}

// PayeeAddress derives the payee record for authority.
func PayeeAddress(authority crypto.Address) crypto.Address {
	return crypto.MustDerive(ProgramAddress, seedPayee, authority[:])
}

// TermsAddress derives the terms record for (payee, id).
func TermsAddress(payee crypto.Address, id string) (crypto.Address, error) {
	if err := ValidateTermsID(id); err != nil {
		return crypto.Address{}, err
	}
	return crypto.Derive(ProgramAddress, seedTerms, payee[:], []byte(id))
}

// AgreementAddress derives the agreement record for (terms, payer).
func AgreementAddress(terms, payer crypto.Address) crypto.Address {
	return crypto.MustDerive(ProgramAddress, seedAgreement, terms[:], payer[:])
}

// DelegateSeeds is the seed tuple of the single shared delegate.
func DelegateSeeds() crypto.Seeds {
	return crypto.NewSeeds(ProgramAddress, seedDelegate)
}

// DelegateAddress is the keyless delegate every payer grants an allowance.
func DelegateAddress() crypto.Address {
	return crypto.MustDerive(ProgramAddress, seedDelegate)
}

// ValidateTermsID enforces the terms identifier charset.
func ValidateTermsID(id string) error {
	if id == "" {
		return invalidParam("terms_id", "must not be empty")
	}
	if len(id) > MaxTermsIDLength {
		return invalidParam("terms_id", fmt.Sprintf("must be at most %d bytes", MaxTermsIDLength))
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return invalidParam("terms_id", fmt.Sprintf("invalid character %q", r))
		}
	}
	return nil
}

func indexKey(prefix []byte, addr crypto.Address) []byte {
	key := make([]byte, 0, len(prefix)+crypto.AddressLength)
	key = append(key, prefix...)
	return append(key, addr[:]...)
}

func termsIndexKey(payee crypto.Address) []byte { return indexKey(indexTermsByPayee, payee) }

func agreementsByTermsKey(terms crypto.Address) []byte {
	return indexKey(indexAgreementsByTerms, terms)
}

func agreementsByPayerKey(payer crypto.Address) []byte {
	return indexKey(indexAgreementsByPayer, payer)
}

// verifyDerived re-derives addr from seeds and reports a mismatch as an
// authority error.
func verifyDerived(field string, claimed crypto.Address, seeds crypto.Seeds) error {
	if err := crypto.VerifyDerivation(claimed, seeds); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrAuthorityMismatch, field, claimed, err)
	}
	return nil
}
