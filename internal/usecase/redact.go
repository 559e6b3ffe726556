package usecase

import (
	"go.uber.org/zap"

	"trackify/internal/domain"
)

// Decrypter reverses field-level encryption. IsCiphertext is the explicit
// marker check; values without the marker are never touched.
type Decrypter interface {
	IsCiphertext(v string) bool
	Decrypt(ciphertext string) (string, error)
}

// decryptRows walks every value in every row and reverses recognized
// ciphertext in place. Best effort: a value that fails to decrypt is left
// unchanged and the turn continues. The pass is idempotent since decrypted
// values no longer carry the marker.
func decryptRows(rows []domain.Row, dec Decrypter, log *zap.Logger) {
	if dec == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	for _, row := range rows {
		for _, col := range row.Columns {
			s, ok := row.Values[col].(string)
			if !ok || !dec.IsCiphertext(s) {
				continue
			}
			plaintext, err := dec.Decrypt(s)
			if err != nil {
				log.Warn("field decryption failed, leaving value as-is",
					zap.String("column", col), zap.Error(err))
				continue
			}
			row.Values[col] = plaintext
		}
	}
}
