package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"trustlayer/internal/audit"
	"trustlayer/internal/audit/domain"
)

func verifyCmd(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.StringP("file", "f", "-", "JSON export: one record, an array, or one record per line ('-' for stdin)")
	secret := fs.String("secret", os.Getenv("AUDIT_SIGNING_SECRET"), "signing secret; empty checks checksums only")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	in := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(stderr, "trustctl:", err)
			return 1
		}
		defer f.Close()
		in = f
	}
	records, err := decodeRecords(in)
	if err != nil {
		fmt.Fprintln(stderr, "trustctl:", err)
		return 1
	}
	sealer, err := audit.NewSealer([]byte(*secret))
	if err != nil {
		fmt.Fprintln(stderr, "trustctl:", err)
		return 1
	}
	bad := verifyRecords(stdout, sealer, records)
	mode := "checksum and signature"
	if !sealer.Keyed() {
		mode = "checksum only"
	}
	fmt.Fprintf(stdout, "%d records, %d failed (%s)\n", len(records), bad, mode)
	if bad > 0 {
		return 1
	}
	return 0
}

// decodeRecords reads a single record, a JSON array of records, or a stream
// of concatenated records.
func decodeRecords(r io.Reader) ([]*domain.Record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(br)
	if first == '[' {
		var out []*domain.Record
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return out, nil
	}
	var out []*domain.Record
	for {
		var rec domain.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, &rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}

// verifyRecords prints every record that fails verification and returns
// how many did.
func verifyRecords(w io.Writer, s *audit.Sealer, records []*domain.Record) int {
	bad := 0
	for i, rec := range records {
		if rec == nil {
			bad++
			fmt.Fprintf(w, "FAIL #%d: null record\n", i+1)
			continue
		}
		if err := s.Verify(rec); err != nil {
			bad++
			fmt.Fprintf(w, "FAIL %s: %v\n", rec.ID, err)
		}
	}
	return bad
}
