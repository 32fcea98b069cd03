package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

type tradeResponse struct {
	trade.View
	Unseen bool `json:"unseen"`
}

func (s *Server) respond(e trade.Entry) tradeResponse {
	out := tradeResponse{View: s.flow.View(e, s.cfg.Now())}
	if s.cfg.Badges != nil && e.Flow == domain.FlowSettled && e.Trade != nil {
		unseen, err := s.cfg.Badges.Unseen([]string{e.Trade.ID})
		if err != nil {
			s.log.WithError(err).Warn("badge lookup failed")
		}
		out.Unseen = len(unseen) == 1
	}
	return out
}

func (s *Server) handleTradesList(c *gin.Context) {
	entries := s.flow.Store.List()
	out := make([]tradeResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.respond(e))
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) handleTradeGet(c *gin.Context) {
	e, ok := s.flow.Store.Get(c.Param("tradeID"))
	if !ok {
		writeError(c, http.StatusNotFound, "trade.not_found", "")
		return
	}
	c.JSON(http.StatusOK, s.respond(e))
}

func (s *Server) handleReceiptUpload(c *gin.Context) {
	id := c.Param("tradeID")
	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "receipt.missing_file", err.Error())
		return
	}
	if fh.Size > maxReceiptBytes {
		writeError(c, http.StatusRequestEntityTooLarge, "receipt.too_large", "")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "receipt.missing_file", err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReceiptBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, "receipt.missing_file", err.Error())
		return
	}

	res, err := s.flow.Upload(c.Request.Context(), id, api.Receipt{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		s.writeUploadError(c, id, err)
		return
	}
	e, _ := s.flow.Store.Get(id)
	c.JSON(http.StatusOK, gin.H{
		"valid":           res.IsValid,
		"validation_code": res.ValidationCode,
		"trade":           s.respond(e),
	})
}

func (s *Server) writeUploadError(c *gin.Context, id string, err error) {
	var f *errclass.Failure
	switch {
	case errors.Is(err, trade.ErrUnknownTrade):
		writeError(c, http.StatusNotFound, "trade.not_found", "")
	case errors.Is(err, trade.ErrUploadClosed):
		writeError(c, http.StatusConflict, "receipt.upload_closed", "")
	case errors.Is(err, trade.ErrUnsupportedFormat):
		writeError(c, http.StatusUnsupportedMediaType, "receipt.unsupported_format", "")
	case errors.As(err, &f):
		// 原始错误只进日志，不返回给调用方
		s.log.WithError(err).WithField(logger.FieldTradeID, id).Warn("receipt upload failed")
		writeError(c, http.StatusBadGateway, f.MessageKey, "")
	default:
		s.log.WithError(err).WithField(logger.FieldTradeID, id).Error("receipt upload failed")
		writeError(c, http.StatusInternalServerError, errclass.MessageKey(errclass.KindUnknown), "")
	}
}

func (s *Server) handleRetry(c *gin.Context) {
	id := c.Param("tradeID")
	switch err := s.flow.Retry(id); {
	case errors.Is(err, trade.ErrUnknownTrade):
		writeError(c, http.StatusNotFound, "trade.not_found", "")
		return
	case errors.Is(err, trade.ErrRetryNotAllowed):
		writeError(c, http.StatusConflict, "trade.retry_not_allowed", "")
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, errclass.MessageKey(errclass.KindUnknown), "")
		return
	}
	e, _ := s.flow.Store.Get(id)
	c.JSON(http.StatusOK, s.respond(e))
}

func (s *Server) handleSeen(c *gin.Context) {
	id := c.Param("tradeID")
	if _, ok := s.flow.Store.Get(id); !ok {
		writeError(c, http.StatusNotFound, "trade.not_found", "")
		return
	}
	if s.cfg.Badges != nil {
		if err := s.cfg.Badges.MarkSeen(id); err != nil {
			writeError(c, http.StatusInternalServerError, errclass.MessageKey(errclass.KindUnknown), "")
			return
		}
	}
	c.Status(http.StatusNoContent)
}
