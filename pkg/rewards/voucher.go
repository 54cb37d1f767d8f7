package rewards

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// MintVoucherCode produces a code of the form PREFIX-<unix timestamp>-<random
// alphanumerics>. The random segment carries enough entropy (36^12) that a
// collision against the unique constraint is negligible; inserts still guard
// against it.
func MintVoucherCode(nowUnixUTC int64) (VoucherCode, error) {
	var builder strings.Builder
	builder.WriteString(voucherPrefix)
	builder.WriteByte('-')
	fmt.Fprintf(&builder, "%d", nowUnixUTC)
	builder.WriteByte('-')
	alphabetSize := big.NewInt(int64(len(voucherAlphabet)))
	for index := 0; index < voucherRandomLength; index++ {
		position, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return VoucherCode{}, fmt.Errorf("%w: entropy source failed: %v", ErrInvalidVoucherCode, err)
		}
		builder.WriteByte(voucherAlphabet[position.Int64()])
	}
	return NewVoucherCode(builder.String())
}
