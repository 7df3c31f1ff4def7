package dictionary

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

// FileFormat represents the dictionary file formats the loader reads.
type FileFormat int

const (
	FormatUnknown FileFormat = iota
	FormatChunk              // dict_NNNN.bin chunk files
	FormatText               // "word [rank]" per line
)

// maxChunkWords bounds the header count of a chunk file.
const maxChunkWords = 1_000_000

func (f FileFormat) String() string {
	switch f {
	case FormatChunk:
		return "chunk"
	case FormatText:
		return "text"
	default:
		return "unknown"
	}
}

// DetectFileFormat guesses the format of a file from its name.
func DetectFileFormat(filename string) FileFormat {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.ToLower(filepath.Base(filename))
	switch {
	case strings.HasPrefix(base, "dict_") && ext == ".bin":
		return FormatChunk
	case ext == ".txt":
		return FormatText
	default:
		return FormatUnknown
	}
}

// ChunkWordCount reads and validates the header of a chunk file.
func ChunkWordCount(filename string) (int, error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, errors.Wrapf(err, "open chunk %s", filename)
	}
	defer file.Close()

	var count int32
	if err := binary.Read(file, binary.LittleEndian, &count); err != nil {
		return 0, errors.Wrapf(err, "read header of %s", filename)
	}
	if count < 0 || count > maxChunkWords {
		return 0, errors.Newf("invalid word count in %s: %d", filename, count)
	}
	return int(count), nil
}

// readChunk decodes a chunk stream: int32 count, then per entry a uint16
// length, the word bytes and a uint16 rank.
func readChunk(r io.Reader, fn func(word string, rank uint16)) (int, error) {
	reader := bufio.NewReader(r)

	var total int32
	if err := binary.Read(reader, binary.LittleEndian, &total); err != nil {
		return 0, errors.Wrap(err, "read chunk header")
	}
	if total < 0 || total > maxChunkWords {
		return 0, errors.Newf("invalid chunk word count %d", total)
	}

	count := 0
	for count < int(total) {
		var wordLen uint16
		if err := binary.Read(reader, binary.LittleEndian, &wordLen); err != nil {
			if err == io.EOF {
				log.Warnf("Chunk ended after %d of %d words", count, total)
				break
			}
			return count, errors.Wrap(err, "read word length")
		}
		wordBytes := make([]byte, wordLen)
		if _, err := io.ReadFull(reader, wordBytes); err != nil {
			return count, errors.Wrap(err, "read word")
		}
		var rank uint16
		if err := binary.Read(reader, binary.LittleEndian, &rank); err != nil {
			return count, errors.Wrap(err, "read rank")
		}
		fn(string(wordBytes), rank)
		count++
	}
	return count, nil
}

// WriteChunk encodes entries in chunk format. Entries without a rank get
// their position as rank.
func WriteChunk(w io.Writer, words []string, ranks []uint16) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(words))); err != nil {
		return errors.Wrap(err, "write chunk header")
	}
	for i, word := range words {
		if len(word) > math.MaxUint16 {
			return errors.Newf("word too long: %d bytes", len(word))
		}
		rank := uint16(min(i+1, math.MaxUint16))
		if i < len(ranks) {
			rank = ranks[i]
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(word))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, word); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rank); err != nil {
			return err
		}
	}
	return nil
}

// readText decodes "word [rank]" lines. Lines without a rank are ranked by
// position; blank lines and '#' comments are skipped.
func readText(r io.Reader, fn func(word string, rank uint16)) (int, error) {
	scanner := bufio.NewScanner(r)
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		rank := uint16(min(count+1, math.MaxUint16))
		if len(fields) > 1 {
			if v, err := strconv.ParseUint(fields[1], 10, 16); err == nil {
				rank = uint16(v)
			}
		}
		fn(fields[0], rank)
		count++
	}
	return count, errors.Wrap(scanner.Err(), "scan text dictionary")
}
