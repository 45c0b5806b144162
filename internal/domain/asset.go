package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// AssetKind discriminates the three asset classes a holding may reference.
type AssetKind int

const (
	AssetFiat AssetKind = iota + 1
	AssetCrypto
	AssetFundShares
)

func (k AssetKind) String() string {
	switch k {
	case AssetFiat:
		return "fiat"
	case AssetCrypto:
		return "crypto"
	case AssetFundShares:
		return "shares"
	default:
		return "unknown"
	}
}

// AssetRef identifies exactly one of: a fiat currency, a crypto asset, or
// another fund's shares. The zero value is invalid; construction through
// Fiat/Crypto/FundShares guarantees exactly one variant is set.
type AssetRef struct {
	kind     AssetKind
	fiatCode string
	cryptoID int64
	fundID   int64
}

// Fiat returns an AssetRef for a fiat currency code such as "USD".
func Fiat(code string) AssetRef {
	return AssetRef{kind: AssetFiat, fiatCode: strings.ToUpper(code)}
}

// Crypto returns an AssetRef for a crypto asset id.
func Crypto(id int64) AssetRef {
	return AssetRef{kind: AssetCrypto, cryptoID: id}
}

// FundShares returns an AssetRef for another fund's shares.
func FundShares(fundID int64) AssetRef {
	return AssetRef{kind: AssetFundShares, fundID: fundID}
}

// Kind returns the asset class, or 0 for the invalid zero value.
func (a AssetRef) Kind() AssetKind { return a.kind }

// IsZero reports whether the reference was never constructed.
func (a AssetRef) IsZero() bool { return a.kind == 0 }

// FiatCode returns the currency code for fiat references.
func (a AssetRef) FiatCode() (string, bool) {
	return a.fiatCode, a.kind == AssetFiat
}

// CryptoID returns the crypto asset id for crypto references.
func (a AssetRef) CryptoID() (int64, bool) {
	return a.cryptoID, a.kind == AssetCrypto
}

// SharesFundID returns the referenced fund id for fund-share references.
func (a AssetRef) SharesFundID() (int64, bool) {
	return a.fundID, a.kind == AssetFundShares
}

// Canonical returns the storage and cache-key form, e.g. "fiat:USD",
// "crypto:42", "shares:7".
func (a AssetRef) Canonical() string {
	switch a.kind {
	case AssetFiat:
		return "fiat:" + a.fiatCode
	case AssetCrypto:
		return "crypto:" + strconv.FormatInt(a.cryptoID, 10)
	case AssetFundShares:
		return "shares:" + strconv.FormatInt(a.fundID, 10)
	default:
		return ""
	}
}

func (a AssetRef) String() string { return a.Canonical() }

// ParseAssetRef parses the canonical form produced by Canonical.
func ParseAssetRef(s string) (AssetRef, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return AssetRef{}, fmt.Errorf("invalid asset reference %q", s)
	}
	switch kind {
	case "fiat":
		return Fiat(rest), nil
	case "crypto":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return AssetRef{}, fmt.Errorf("invalid crypto asset reference %q", s)
		}
		return Crypto(id), nil
	case "shares":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return AssetRef{}, fmt.Errorf("invalid fund-share asset reference %q", s)
		}
		return FundShares(id), nil
	default:
		return AssetRef{}, fmt.Errorf("unknown asset kind in %q", s)
	}
}
