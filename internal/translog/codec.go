package translog

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/arcensyl/modcrabfs/internal/ferr"
)

// Wire tags for the cache file's tagged-union encoding (spec.md §6):
//
//	file    := record*
//	record  := tag(1 byte) body
//	tag 0x01 = Deletion:   body := lenprefixed(target)
//	tag 0x02 = Relocation: body := lenprefixed(from) lenprefixed(to)
//	lenprefixed(s) := uvarint(len(s)) bytes(s)
const (
	tagDeletion   byte = 0x01
	tagRelocation byte = 0x02
)

// ReadCache decodes every record in path into a Transformation slice.
// A missing file is treated as an empty log. A corrupt or truncated
// file is also treated as an empty log, per spec.md §4.3's tolerance
// for a damaged cache: self-healing happens by discarding it, not by
// failing the mount.
func ReadCache(path string) []Transformation {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	list, err := decodeAll(bufio.NewReader(f))
	if err != nil {
		return nil
	}
	return list
}

func decodeAll(r *bufio.Reader) ([]Transformation, error) {
	var out []Transformation
	for {
		tag, err := r.ReadByte()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		switch tag {
		case tagDeletion:
			target, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			out = append(out, Deletion{Target: target})
		case tagRelocation:
			from, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			to, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			out = append(out, Relocation{From: from, To: to})
		default:
			return nil, ferr.New(ferr.DecodeFailed, "translog.decodeAll", "", nil)
		}
	}
}

func readLenPrefixed(r *bufio.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteCache atomically replaces path's contents with the encoding of
// list. The file is written to a temporary sibling and renamed into
// place so a crash mid-write never leaves a half-written cache.
func WriteCache(path string, list []Transformation) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ferr.New(ferr.IOFailed, "translog.WriteCache", path, err)
	}

	w := bufio.NewWriter(f)
	for _, t := range list {
		if err := encodeOne(w, t); err != nil {
			f.Close()
			os.Remove(tmp)
			return ferr.New(ferr.IOFailed, "translog.WriteCache", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return ferr.New(ferr.IOFailed, "translog.WriteCache", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ferr.New(ferr.IOFailed, "translog.WriteCache", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ferr.New(ferr.IOFailed, "translog.WriteCache", path, err)
	}
	return nil
}

func encodeOne(w *bufio.Writer, t Transformation) error {
	switch v := t.(type) {
	case Deletion:
		if err := w.WriteByte(tagDeletion); err != nil {
			return err
		}
		return writeLenPrefixed(w, v.Target)
	case Relocation:
		if err := w.WriteByte(tagRelocation); err != nil {
			return err
		}
		if err := writeLenPrefixed(w, v.From); err != nil {
			return err
		}
		return writeLenPrefixed(w, v.To)
	default:
		return ferr.New(ferr.InvalidInput, "translog.encodeOne", "", nil)
	}
}

func writeLenPrefixed(w *bufio.Writer, s string) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}
