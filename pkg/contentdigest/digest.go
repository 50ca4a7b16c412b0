// Fast content fingerprinting for transfer verification (xxhash64, streaming).
package contentdigest

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// reads happen in fixed-size blocks so memory use stays constant no matter
// how large the file is
const blockSize = 1024 * 1024

// Token of the empty stream. Not zero - xxhash64 of zero bytes of input.
const EmptyStreamToken = Token(0xef46db3751d8e999)

// 64-bit content fingerprint. Non-cryptographic: always compare together
// with file size, never alone.
type Token uint64

func (t Token) Hex() string {
	return fmt.Sprintf("%016x", uint64(t))
}

func TokenFromHex(serialized string) (Token, error) {
	var num uint64
	if _, err := fmt.Sscanf(serialized, "%016x", &num); err != nil {
		return 0, fmt.Errorf("TokenFromHex: %v", err)
	}

	return Token(num), nil
}

// tokens travel as lowercase hex text in manifests and in the catalog
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.Hex()), nil
}

func (t *Token) UnmarshalText(serialized []byte) error {
	parsed, err := TokenFromHex(string(serialized))
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}

// called with (bytesSoFar, total). total is what the caller knows in advance
// and may be zero if unknown.
type ProgressObserver func(bytesSoFar int64, total int64)

// computes Token for a stream. identical bytes => identical token (up to the
// collision probability of a 64-bit hash).
func Digest(source io.Reader) (Token, error) {
	return digestInternal(source, 0, nil)
}

func DigestWithProgress(source io.Reader, total int64, observer ProgressObserver) (Token, error) {
	return digestInternal(source, total, observer)
}

func DigestFile(path string, observer ProgressObserver) (Token, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return 0, 0, err
	}

	token, err := digestInternal(file, stat.Size(), observer)
	if err != nil {
		return 0, 0, err
	}

	return token, stat.Size(), nil
}

func digestInternal(source io.Reader, total int64, observer ProgressObserver) (Token, error) {
	hasher := xxhash.New()

	block := make([]byte, blockSize)

	bytesSoFar := int64(0)

	for {
		n, errRead := source.Read(block)
		if n > 0 {
			// xxhash's Write() never errors
			_, _ = hasher.Write(block[0:n])

			bytesSoFar += int64(n)

			if observer != nil {
				observer(bytesSoFar, total)
			}
		}

		if errRead == io.EOF {
			break
		}
		if errRead != nil {
			return 0, errRead
		}
	}

	return Token(hasher.Sum64()), nil
}
