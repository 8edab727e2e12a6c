package store

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"sort"
	"time"
)

// ProofStep is one level of a merkle inclusion proof: the sibling hash
// and whether it sits to the left of the path node.
type ProofStep struct {
	Sibling string `json:"sibling"`
	Left    bool   `json:"left"`
}

// merkleTree is a binary sha512 tree over the sorted record snapshot.
// levels[0] holds the leaf hashes; the last level holds the root.
type merkleTree struct {
	leaves    [][]byte // sorted records, for leaf lookup
	levels    [][][]byte
	nodeCount int
	builtAt   time.Time
}

func leafHash(record []byte) []byte {
	h := sha512.Sum512(record)
	return h[:]
}

func nodeHash(left, right []byte) []byte {
	h := sha512.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func buildTree(records [][]byte) *merkleTree {
	t := &merkleTree{builtAt: time.Now()}
	if len(records) == 0 {
		return t
	}
	leaves := make([][]byte, len(records))
	copy(leaves, records)
	sort.Slice(leaves, func(i, j int) bool { return bytes.Compare(leaves[i], leaves[j]) < 0 })
	t.leaves = leaves

	level := make([][]byte, len(leaves))
	for i, r := range leaves {
		level[i] = leafHash(r)
	}
	t.levels = append(t.levels, level)
	t.nodeCount = len(level)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, nodeHash(level[i], level[i+1]))
			} else {
				// odd node is promoted unchanged
				next = append(next, level[i])
			}
		}
		t.levels = append(t.levels, next)
		t.nodeCount += len(next)
		level = next
	}
	return t
}

func (t *merkleTree) root() []byte {
	if len(t.levels) == 0 {
		return nil
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// proof returns the sibling path for a record, or ok=false when the
// record is not a leaf of this tree.
func (t *merkleTree) proof(record []byte) ([]ProofStep, bool) {
	if len(t.leaves) == 0 {
		return nil, false
	}
	pos := sort.Search(len(t.leaves), func(i int) bool {
		return bytes.Compare(t.leaves[i], record) >= 0
	})
	if pos >= len(t.leaves) || !bytes.Equal(t.leaves[pos], record) {
		return nil, false
	}

	var steps []ProofStep
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := pos ^ 1
		if sibling < len(level) {
			steps = append(steps, ProofStep{
				Sibling: hex.EncodeToString(level[sibling]),
				Left:    sibling < pos,
			})
		}
		pos /= 2
	}
	return steps, true
}

// UpdateTree rebuilds the merkle tree from the current snapshot and
// returns the node count plus the number of records covered.
func (s *Store) UpdateTree() (treeSize, hashCount int) {
	tree := buildTree(s.Snapshot())
	s.treeMu.Lock()
	s.tree = tree
	s.treeMu.Unlock()
	return tree.nodeCount, len(tree.leaves)
}

// Root returns the current merkle root, or nil before the first
// UpdateTree (or when the store was empty at build time).
func (s *Store) Root() []byte {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	if s.tree == nil {
		return nil
	}
	return s.tree.root()
}

// TreeSize returns the node count of the current tree.
func (s *Store) TreeSize() int {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	if s.tree == nil {
		return 0
	}
	return s.tree.nodeCount
}

// LastUpdate returns when the tree was last rebuilt.
func (s *Store) LastUpdate() (time.Time, bool) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	if s.tree == nil {
		return time.Time{}, false
	}
	return s.tree.builtAt, true
}

// Proof returns the inclusion proof for a record against the current
// tree. Records added after the last UpdateTree have no proof yet.
func (s *Store) Proof(record []byte) ([]ProofStep, bool) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	if s.tree == nil {
		return nil, false
	}
	return s.tree.proof(record)
}

// VerifyProof replays a proof path and checks it against the root.
func VerifyProof(record []byte, steps []ProofStep, root []byte) bool {
	cur := leafHash(record)
	for _, step := range steps {
		sibling, err := hex.DecodeString(step.Sibling)
		if err != nil {
			return false
		}
		if step.Left {
			cur = nodeHash(sibling, cur)
		} else {
			cur = nodeHash(cur, sibling)
		}
	}
	return bytes.Equal(cur, root)
}
