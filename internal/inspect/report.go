// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inspect

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sugawarayuuta/sonnet"
)

// Format selects how a report is written.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("inspect: unknown format %q", s)
}

type jsonEntry struct {
	Index uint64 `json:"index"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type jsonImage struct {
	Kind     Kind        `json:"kind"`
	Capacity int         `json:"capacity"`
	Len      int         `json:"len"`
	Entries  []jsonEntry `json:"entries"`
}

type jsonProblems struct {
	Kind     Kind      `json:"kind"`
	OK       bool      `json:"ok"`
	Problems []Problem `json:"problems"`
}

// WriteImage writes img to w. Element bytes are hex encoded.
func WriteImage(w io.Writer, img *Image, f Format) error {
	switch f {
	case FormatText:
		if _, err := fmt.Fprintf(w, "kind=%s capacity=%d len=%d\n", img.Kind, img.Capacity, img.Len); err != nil {
			return err
		}
		for _, e := range img.Entries {
			var err error
			if e.Value != nil {
				_, err = fmt.Fprintf(w, "%6d  %x => %x\n", e.Index, e.Key, e.Value)
			} else {
				_, err = fmt.Fprintf(w, "%6d  %x\n", e.Index, e.Key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	default:
		r := jsonImage{
			Kind:     img.Kind,
			Capacity: img.Capacity,
			Len:      img.Len,
			Entries:  make([]jsonEntry, len(img.Entries)),
		}
		for i, e := range img.Entries {
			r.Entries[i] = jsonEntry{Index: e.Index, Key: hex.EncodeToString(e.Key)}
			if e.Value != nil {
				r.Entries[i].Value = hex.EncodeToString(e.Value)
			}
		}
		return writeJSON(w, r)
	}
}

// WriteProblems writes the outcome of Verify to w.
func WriteProblems(w io.Writer, kind Kind, problems []Problem, f Format) error {
	switch f {
	case FormatText:
		if len(problems) == 0 {
			_, err := fmt.Fprintf(w, "%s: ok\n", kind)
			return err
		}
		for _, p := range problems {
			if _, err := fmt.Fprintf(w, "%s: %s\n", kind, p); err != nil {
				return err
			}
		}
		return nil
	default:
		if problems == nil {
			problems = []Problem{}
		}
		return writeJSON(w, jsonProblems{Kind: kind, OK: len(problems) == 0, Problems: problems})
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("inspect: encoding report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
