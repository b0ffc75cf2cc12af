package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/history"
	"github.com/hyperjump/kaiwa/internal/ingest"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ChunkIDs  []string  `json:"chunk_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.chats.CreateSession()
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"created_at": sess.CreatedAt,
		"state":      sess.State().String(),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.chats.CloseSession(id); err != nil {
		s.respondChatError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "closed"})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.chats.GetSession(sessionID); err != nil {
		s.respondChatError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart field 'file' required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	doc, chunks, err := s.ingestor.Ingest(r.Context(), header.Filename, content)
	if err != nil {
		s.logger.Error("ingestion failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondIngestError(w, err)
		return
	}
	if err := s.chats.AttachDocument(sessionID, doc.ID); err != nil {
		// Keep uploads all-or-nothing: a document that cannot be attached
		// must not linger in storage or the indices.
		if derr := s.ingestor.Delete(doc.ID); derr != nil {
			s.logger.Error("rollback after failed attach", zap.String("document_id", doc.ID), zap.Error(derr))
		}
		s.respondChatError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"format":      doc.Format,
		"size_bytes":  doc.SizeBytes,
		"chunks":      len(chunks),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("chat request", zap.String("session_id", sessionID))

	msg, err := s.chats.Send(r.Context(), sessionID, req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", zap.String("session_id", sessionID), zap.Error(err))
		s.respondChatError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, chatResponse{
		MessageID: msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		ChunkIDs:  msg.ChunkIDs,
		Timestamp: msg.Timestamp,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	recs, err := s.chats.History(sessionID)
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	if recs == nil {
		recs = []*models.HistoryRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   recs,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.storage.ListDocuments()
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetDocument(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.ingestor.Delete(id); err != nil {
		s.logger.Error("deletion failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docCount, err := s.storage.CountDocuments()
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.storage.CountChunks()
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents":         docCount,
		"chunks":            chunkCount,
		"vector_index_size": s.vectors.Size(),
		"sessions":          s.chats.SessionCount(),
		"config": map[string]interface{}{
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chat_model":           s.config.Model.Name,
			"chunk_size":           s.config.Ingest.ChunkSize,
			"chunk_overlap":        s.config.Ingest.ChunkOverlap,
			"top_k":                s.config.Chat.TopK,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondIngestError maps ingestion failures onto HTTP statuses: unsupported
// format 415, oversize 413, unusable content 422, embedding backend down 502.
func (s *Server) respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		s.respondError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ingest.ErrFileTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ingest.ErrExtraction), errors.Is(err, ingest.ErrEmptyDocument):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, embedding.ErrService):
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondChatError maps chat failures onto HTTP statuses: unknown session
// 404, illegal state 409, empty message 422, upstream failures 502,
// persistence failures 500. The body carries a machine-readable kind so
// callers can tell retrieval, model, state, and persistence failures apart
// even when the status code is shared.
func (s *Server) respondChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		s.respondErrorKind(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, chat.ErrInvalidSessionState):
		s.respondErrorKind(w, http.StatusConflict, "state", err.Error())
	case errors.Is(err, chat.ErrEmptyMessage):
		s.respondErrorKind(w, http.StatusUnprocessableEntity, "validation", err.Error())
	case errors.Is(err, chat.ErrRetrieval):
		s.respondErrorKind(w, http.StatusBadGateway, "retrieval", err.Error())
	case errors.Is(err, chat.ErrModelCall):
		s.respondErrorKind(w, http.StatusBadGateway, "model", err.Error())
	case errors.Is(err, history.ErrPersistence):
		s.respondErrorKind(w, http.StatusInternalServerError, "persistence", err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondErrorKind(w http.ResponseWriter, status int, kind, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}
