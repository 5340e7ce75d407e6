// Пакет hasher — потоковое вычисление и проверка контрольных сумм.
// Дайджест считается инкрементально через io.Copy, потребление памяти
// не зависит от размера входа. Сравнение hex-строк регистронезависимое.
package hasher

import (
	"crypto/md5"  //nolint:gosec // слабый алгоритм оставлен для совместимости
	"crypto/sha1" //nolint:gosec // слабый алгоритм оставлен для совместимости
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Algorithm — алгоритм контрольной суммы.
type Algorithm string

const (
	// AlgMD5 — MD5 (128 бит). Только для совместимости со старыми данными.
	AlgMD5 Algorithm = "md5"
	// AlgSHA1 — SHA-1 (160 бит). Только для совместимости со старыми данными.
	AlgSHA1 Algorithm = "sha1"
	// AlgSHA256 — SHA-256, алгоритм по умолчанию
	AlgSHA256 Algorithm = "sha256"
	// AlgSHA512 — SHA-512
	AlgSHA512 Algorithm = "sha512"
)

// Default — алгоритм по умолчанию для новых записей.
const Default = AlgSHA256

// ErrUnsupportedAlgorithm — алгоритм не входит в поддерживаемый набор.
var ErrUnsupportedAlgorithm = fmt.Errorf("неподдерживаемый алгоритм контрольной суммы")

// New возвращает hash.Hash для указанного алгоритма
// или ErrUnsupportedAlgorithm.
func New(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case AlgMD5:
		return md5.New(), nil //nolint:gosec
	case AlgSHA1:
		return sha1.New(), nil //nolint:gosec
	case AlgSHA256:
		return sha256.New(), nil
	case AlgSHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Parse преобразует строку в Algorithm.
// Возвращает ErrUnsupportedAlgorithm для недопустимых значений.
func Parse(s string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(s))
	if _, err := New(alg); err != nil {
		return "", err
	}
	return alg, nil
}

// Digest вычисляет hex-дайджест потока. Вход читается до EOF.
func Digest(r io.Reader, alg Algorithm) (string, error) {
	h, err := New(alg)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("ошибка чтения потока для дайджеста: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify сравнивает дайджест потока с ожидаемым hex-значением.
// Сравнение регистронезависимое: Verify == (Digest(r) == lower(expected)).
func Verify(r io.Reader, expectedHex string, alg Algorithm) (bool, error) {
	actual, err := Digest(r, alg)
	if err != nil {
		return false, err
	}
	return actual == strings.ToLower(expectedHex), nil
}
