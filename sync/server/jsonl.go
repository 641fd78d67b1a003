// Copyright (C) 2025 oesp-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/oesp-project/oesp/pkg/storage"
)

// chunkLine is one JSONL record in a sync session's uploaded corpus.
type chunkLine struct {
	Token string `json:"token"`
}

// lineHandler is invoked once per JSONL line, in seq order. parseErr is
// set when the line itself wasn't valid JSON; handle is expected to
// count that as an invalid item and return nil, not abort the stream.
// A non-nil return aborts the whole commit.
type lineHandler func(ctx context.Context, line chunkLine, parseErr error) error

// streamCommit feeds every chunk of session sessionID, in seq order,
// through an incremental sha256 and a JSONL line splitter, calling
// handle once per line. It never buffers the full corpus: each chunk
// is written to an io.Pipe that a bufio.Scanner reads from
// concurrently, so memory use is bounded by one chunk plus one line.
// It returns the hex-encoded sha256 of the full stream.
func streamCommit(ctx context.Context, sessions storage.SessionStore, sessionID string, handle lineHandler) (string, error) {
	hash := sha256.New()
	pr, pw := io.Pipe()

	scanErrCh := make(chan error, 1)
	go func() {
		defer close(scanErrCh)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var line chunkLine
			parseErr := json.Unmarshal(raw, &line)
			if err := handle(ctx, line, parseErr); err != nil {
				scanErrCh <- err
				pr.CloseWithError(err)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErrCh <- fmt.Errorf("sync/server: scan jsonl: %w", err)
		}
	}()

	var seq int64
	for {
		chunk, err := sessions.GetChunk(ctx, sessionID, seq)
		if err != nil {
			if err == storage.ErrNotFound {
				break
			}
			pw.CloseWithError(err)
			<-scanErrCh
			return "", fmt.Errorf("sync/server: read chunk %d: %w", seq, err)
		}
		if _, err := hash.Write(chunk.Payload); err != nil {
			pw.CloseWithError(err)
			<-scanErrCh
			return "", fmt.Errorf("sync/server: hash chunk %d: %w", seq, err)
		}
		if _, err := pw.Write(chunk.Payload); err != nil {
			pw.Close()
			if herr := <-scanErrCh; herr != nil {
				return "", herr
			}
			return "", fmt.Errorf("sync/server: pipe chunk %d: %w", seq, err)
		}
		seq++
	}
	pw.Close()

	if err := <-scanErrCh; err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
