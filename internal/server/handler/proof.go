package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attesthub/internal/dual"
	"github.com/scrtlabs/attesthub/internal/logx"
	"github.com/scrtlabs/attesthub/internal/proof"
	"github.com/scrtlabs/attesthub/internal/server/db"
)

// maxProofUpload bounds the artifact size accepted for verification.
const maxProofUpload = 16 << 20

// HandleGenerateProof handles POST /proof/generate. The form carries either
// a question/answer pair or a full transcript as JSON, plus the encryption
// password. A fresh dual attestation is captured and sealed into the
// artifact, which is streamed back as a download.
func HandleGenerateProof(coord *dual.Coordinator, engine *proof.Engine, store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		password := c.PostForm("password")
		if password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
			return
		}

		transcript, err := transcriptFromForm(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		attestation := coord.Dual(c.Request.Context())

		artifact, err := engine.Generate(transcript, attestation, password)
		if err != nil {
			if errors.Is(err, proof.ErrWeakPassword) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			logx.Errorf("generate proof: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate proof"})
			return
		}

		filename := proof.Filename(time.Now())
		digest := sha256.Sum256(artifact)
		if store != nil {
			rec := &db.ProofRecord{
				Filename:      filename,
				Size:          int64(len(artifact)),
				SHA256:        hex.EncodeToString(digest[:]),
				CorrelationID: attestation.CorrelationID,
			}
			if err := store.InsertProof(rec); err != nil {
				logx.Warnf("record proof %s: %v", filename, err)
			}
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("X-Correlation-ID", attestation.CorrelationID)
		c.Data(http.StatusOK, "application/octet-stream", artifact)
	}
}

// HandleVerifyProof handles POST /proof/verify. A wrong password and a
// corrupted file produce the same negative outcome on purpose; both return
// verified=false rather than an HTTP error, since the verification itself
// completed.
func HandleVerifyProof(engine *proof.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		password := c.PostForm("password")
		if password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
			return
		}

		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "proof file is required"})
			return
		}
		if fh.Size > maxProofUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "proof file too large"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read proof file"})
			return
		}
		defer f.Close()
		artifact, err := io.ReadAll(io.LimitReader(f, maxProofUpload+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read proof file"})
			return
		}

		payload, err := engine.Verify(artifact, password)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"verified": true, "proof_data": payload})
		case errors.Is(err, proof.ErrWrongPasswordOrCorrupted),
			errors.Is(err, proof.ErrTamperedArtifact):
			c.JSON(http.StatusOK, gin.H{"verified": false, "error": err.Error()})
		case errors.Is(err, proof.ErrMalformedArtifact):
			c.JSON(http.StatusBadRequest, gin.H{"verified": false, "error": err.Error()})
		default:
			logx.Errorf("verify proof: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify proof"})
		}
	}
}

// transcriptFromForm accepts either a "transcript" field holding a JSON
// message array, or "question"/"answer" fields for a single exchange.
func transcriptFromForm(c *gin.Context) ([]proof.Message, error) {
	if raw := c.PostForm("transcript"); raw != "" {
		var msgs []proof.Message
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			return nil, fmt.Errorf("transcript must be a JSON message array: %w", err)
		}
		return msgs, nil
	}

	question := c.PostForm("question")
	answer := c.PostForm("answer")
	if question == "" && answer == "" {
		return nil, errors.New("either transcript or question/answer is required")
	}
	now := time.Now().UTC()
	var msgs []proof.Message
	if question != "" {
		msgs = append(msgs, proof.Message{Role: "user", Content: question, Timestamp: now})
	}
	if answer != "" {
		msgs = append(msgs, proof.Message{Role: "assistant", Content: answer, Timestamp: now})
	}
	return msgs, nil
}
