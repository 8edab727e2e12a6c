package server

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/hashbench/internal/store"
)

const (
	msgHashFound        = "Hash found in store"
	msgHashNotFound     = "Hash not found in store"
	msgInvalidLength    = "Invalid hash length - must be exactly 64 bytes"
	msgInvalidBatchSize = "Invalid batch size - must be multiple of 64 bytes"
)

type addResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	TotalHashes    int    `json:"total_hashes"`
	NewHashes      int    `json:"new_hashes"`
	ExistingHashes int    `json:"existing_hashes"`
}

type checkResponse struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	Exists      bool              `json:"exists"`
	MerkleProof []store.ProofStep `json:"merkle_proof,omitempty"`
}

type updateTreeResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	TreeSize  int    `json:"tree_size"`
	HashCount int    `json:"hash_count"`
}

type statsResponse struct {
	Count          int    `json:"count"`
	Slots          int    `json:"slots"`
	TotalSlots     int    `json:"total_slots"`
	MerkleTreeSize int    `json:"merkle_tree_size"`
	MerkleTreeRoot string `json:"merkle_tree_root,omitempty"`
	LastTreeUpdate int64  `json:"last_tree_update,omitempty"`
}

// handleAdd accepts either a raw octet-stream batch of 64-byte records
// or a JSON body {"hash": "<hex or base64>"} carrying one record.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, addResponse{Message: "cannot read body"})
		return
	}

	if isJSONRequest(r) {
		record, msg := decodeSingleHash(body)
		if record == nil {
			writeJSON(w, http.StatusBadRequest, addResponse{Message: msg})
			return
		}
		body = record
	}

	if len(body) == 0 || len(body)%store.RecordSize != 0 {
		writeJSON(w, http.StatusBadRequest, addResponse{Message: msgInvalidBatchSize})
		return
	}

	newCount, existingCount, err := s.store.AddBatch(body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, addResponse{Message: err.Error()})
		return
	}

	total := newCount + existingCount
	writeJSON(w, http.StatusOK, addResponse{
		Success:        true,
		Message:        batchMessage(total, newCount, existingCount),
		TotalHashes:    total,
		NewHashes:      newCount,
		ExistingHashes: existingCount,
	})
}

// handleCheck accepts one record, raw or as JSON, and reports existence
// plus a merkle inclusion proof when the current tree covers it.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, checkResponse{Message: "cannot read body"})
		return
	}

	record := body
	if isJSONRequest(r) {
		var msg string
		record, msg = decodeSingleHash(body)
		if record == nil {
			writeJSON(w, http.StatusBadRequest, checkResponse{Message: msg})
			return
		}
	}
	if len(record) != store.RecordSize {
		writeJSON(w, http.StatusBadRequest, checkResponse{Message: msgInvalidLength})
		return
	}

	exists := s.store.Contains(record)
	resp := checkResponse{Success: true, Exists: exists, Message: msgHashNotFound}
	if exists {
		resp.Message = msgHashFound
		if proof, ok := s.store.Proof(record); ok {
			resp.MerkleProof = proof
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateTree(w http.ResponseWriter, r *http.Request) {
	treeSize, hashCount := s.store.UpdateTree()
	writeJSON(w, http.StatusOK, updateTreeResponse{
		Success:   true,
		Message:   treeMessage(hashCount),
		TreeSize:  treeSize,
		HashCount: hashCount,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Count:          s.store.Len(),
		Slots:          s.store.OccupiedSlots(),
		TotalSlots:     s.store.TotalSlots(),
		MerkleTreeSize: s.store.TreeSize(),
	}
	if root := s.store.Root(); root != nil {
		resp.MerkleTreeRoot = hex.EncodeToString(root)
	}
	if at, ok := s.store.LastUpdate(); ok {
		resp.LastTreeUpdate = at.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// helpers

func batchMessage(total, newCount, existingCount int) string {
	return fmt.Sprintf("Batch processed: %d total, %d new, %d existing", total, newCount, existingCount)
}

func treeMessage(hashCount int) string {
	return fmt.Sprintf("Merkle tree updated with %d hashes", hashCount)
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// decodeSingleHash parses {"hash": "..."} with the value in hex or
// base64. A nil record means failure, with the message to return.
func decodeSingleHash(body []byte) ([]byte, string) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Hash == "" {
		return nil, "invalid JSON body, expected {\"hash\": \"...\"}"
	}
	if b, err := hex.DecodeString(req.Hash); err == nil {
		if len(b) != store.RecordSize {
			return nil, msgInvalidLength
		}
		return b, ""
	}
	b, err := base64.StdEncoding.DecodeString(req.Hash)
	if err != nil {
		return nil, "hash is neither hex nor base64"
	}
	if len(b) != store.RecordSize {
		return nil, msgInvalidLength
	}
	return b, ""
}
