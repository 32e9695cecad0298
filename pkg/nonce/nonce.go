// Package nonce issues opaque single-use values. The issuer uses it to mint
// authorization codes that can be redeemed exactly once.
package nonce

type Service interface {
	Get() (string, error)
	Redeem(nonceStr string) error
}
