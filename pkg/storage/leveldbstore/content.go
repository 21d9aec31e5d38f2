// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldbstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"syscall"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
	"github.com/spf13/afero"
	"golang.org/x/crypto/sha3"
)

type prefix struct {
	f afero.File
}

func (p *prefix) Write(b []byte) (int, error) {
	n, err := p.f.Write(b)
	if errors.Is(err, syscall.ENOSPC) {
		return n, fmt.Errorf("%w: %w", storage.ErrNoSpace, err)
	}
	return n, err
}

func (p *prefix) Close() error { return p.f.Close() }

func (p *prefix) Length() int64 {
	fi, err := p.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (p *prefix) Truncate(size int64) error {
	if err := p.f.Truncate(size); err != nil {
		return err
	}
	_, err := p.f.Seek(size, io.SeekStart)
	return err
}

func (s *Store) OpenPrefix(sockid ids.SOCKID) (storage.Prefix, error) {
	name := prefixPath(sockid)
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return nil, err
	}
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &prefix{f: f}, nil
}

func (s *Store) PrefixVersion(sockid ids.SOCKID) (version.Vector, int64, error) {
	var length int64
	fi, err := s.fs.Stat(prefixPath(sockid))
	switch {
	case err == nil:
		length = fi.Size()
	case !os.IsNotExist(err):
		return nil, 0, err
	}

	b, err := s.get(nil, prefixVersionKey(sockid))
	if errors.Is(err, storage.ErrNotFound) {
		return version.New(), length, nil
	}
	if err != nil {
		return nil, 0, err
	}
	v, err := decodeVector(b)
	return v, length, err
}

func (s *Store) SetPrefixVersion(sockid ids.SOCKID, v version.Vector) error {
	b, err := encodeVector(v)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(prefixVersionKey(sockid)), b, nil)
}

func (s *Store) DeletePrefix(sockid ids.SOCKID) error {
	if err := s.fs.Remove(prefixPath(sockid)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.db.Delete([]byte(prefixVersionKey(sockid)), nil)
}

func (s *Store) hashFile(name string) ([]byte, uint64, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	h := sha3.New256()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), uint64(n), nil
}

func (s *Store) ApplyPrefix(tx storage.Tx, sockid ids.SOCKID, mtime int64) (storage.Branch, error) {
	t, err := s.tx(tx)
	if err != nil {
		return storage.Branch{}, err
	}
	oa, err := s.GetOA(t, sockid.SOID())
	if err != nil {
		return storage.Branch{}, err
	}

	src := prefixPath(sockid)
	hash, length, err := s.hashFile(src)
	if err != nil {
		return storage.Branch{}, fmt.Errorf("apply prefix %s: %w", sockid, err)
	}
	br := storage.Branch{KIdx: sockid.KIdx, Length: length, Mtime: mtime, Hash: hash}
	setBranch(oa, br)
	if err := s.putOA(t, oa); err != nil {
		return storage.Branch{}, err
	}
	t.delete(prefixVersionKey(sockid))

	dst := contentPath(sockid)
	t.onCommit = append(t.onCommit, func() error {
		if err := s.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
			return err
		}
		return s.fs.Rename(src, dst)
	})
	return br, nil
}

func (s *Store) DeleteBranch(tx storage.Tx, sockid ids.SOCKID) error {
	t, err := s.tx(tx)
	if err != nil {
		return err
	}
	oa, err := s.GetOA(t, sockid.SOID())
	if err != nil {
		return err
	}
	kept := oa.Branches[:0]
	for _, b := range oa.Branches {
		if b.KIdx != sockid.KIdx {
			kept = append(kept, b)
		}
	}
	oa.Branches = kept
	if err := s.putOA(t, oa); err != nil {
		return err
	}

	name := contentPath(sockid)
	t.onCommit = append(t.onCommit, func() error {
		if err := s.fs.Remove(name); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	return nil
}

func (s *Store) OpenContent(sockid ids.SOCKID) (io.ReadCloser, storage.Branch, error) {
	oa, err := s.GetOA(nil, sockid.SOID())
	if err != nil {
		return nil, storage.Branch{}, err
	}
	br, ok := oa.Branch(sockid.KIdx)
	if !ok {
		return nil, storage.Branch{}, fmt.Errorf("branch %s: %w", sockid, storage.ErrNotFound)
	}
	f, err := s.fs.Open(contentPath(sockid))
	if err != nil {
		return nil, storage.Branch{}, err
	}
	return f, br, nil
}

func setBranch(oa *storage.OA, br storage.Branch) {
	for i := range oa.Branches {
		if oa.Branches[i].KIdx == br.KIdx {
			oa.Branches[i] = br
			return
		}
	}
	oa.Branches = append(oa.Branches, br)
	oa.SortBranches()
}
