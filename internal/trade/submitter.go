package trade

import (
	"context"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

// ReceiptMIME 唯一接受的凭证类型
const ReceiptMIME = "application/pdf"

// ReceiptValidator 凭证快速校验
type ReceiptValidator interface {
	ValidateReceipt(ctx context.Context, tradeID string, receipt api.Receipt) (*api.ValidationResult, error)
}

// Submitter 上传支付凭证：pending|invalid -> validating -> generating_proof | invalid
type Submitter struct {
	backend  ReceiptValidator
	store    *Store
	clock    *ExpiryClock
	poller   *Poller
	observer Observer
	log      *logrus.Entry
}

// NewSubmitter poller 可为空（只校验不轮询）
func NewSubmitter(backend ReceiptValidator, store *Store, clock *ExpiryClock, poller *Poller) *Submitter {
	return &Submitter{
		backend:  backend,
		store:    store,
		clock:    clock,
		poller:   poller,
		observer: nopObserver{},
		log:      logger.Component("submitter"),
	}
}

// CheckFormat 本地检查凭证类型，不发请求
func CheckFormat(r api.Receipt) error {
	if len(r.Data) == 0 {
		return unsupported("empty file")
	}
	mt := mimetype.Detect(r.Data)
	if !mt.Is(ReceiptMIME) {
		return unsupported(mt.String())
	}
	return nil
}

func unsupported(detail string) *errclass.Failure {
	f := errclass.Validation(errclass.CodeUnsupportedFormat, detail)
	f.Err = ErrUnsupportedFormat
	return f
}

// Submit 上传并校验凭证
// 校验通过后立即启动结算轮询并返回，不等待证明生成
func (s *Submitter) Submit(ctx context.Context, tradeID string, r api.Receipt) (*api.ValidationResult, error) {
	if err := CheckFormat(r); err != nil {
		return nil, err
	}
	// 以检测结果为准，浏览器/表单给的类型不可信
	r.ContentType = ReceiptMIME

	// 原子地检查门控并进入 validating
	var (
		prev    domain.FlowStatus
		allowed bool
	)
	now := s.clock.Now()
	_, found := s.store.Update(tradeID, func(e *Entry) {
		if !s.clock.CanUpload(*e, now) {
			return
		}
		allowed = true
		prev = e.Flow
		e.Flow = domain.FlowValidating
		e.Failure = nil
	})
	if !found {
		return nil, ErrUnknownTrade
	}
	if !allowed {
		return nil, ErrUploadClosed
	}
	log := s.log.WithField(logger.FieldTradeID, tradeID)

	res, err := s.backend.ValidateReceipt(ctx, tradeID, r)
	if err != nil {
		f := errclass.FromError(errclass.CategoryBackendUnavailable, err)
		log.WithError(err).Warn("receipt upload failed")
		s.store.Update(tradeID, func(e *Entry) {
			if e.Flow == domain.FlowValidating {
				e.Flow = prev
				e.Failure = f
			}
		})
		return nil, f
	}

	if !res.IsValid {
		f := errclass.Validation(res.ValidationCode, res.ValidationDetails)
		log.WithField("code", f.Code).Info("receipt rejected")
		s.observer.ReceiptValidated(false, f.Code)
		s.store.Update(tradeID, func(e *Entry) {
			if e.Flow == domain.FlowValidating {
				e.Flow = domain.FlowInvalid
				e.Failure = f
			}
		})
		return res, nil
	}

	log.Info("receipt accepted, proof generation started")
	s.observer.ReceiptValidated(true, "")
	submitted := s.clock.Now()
	moved := false
	s.store.Update(tradeID, func(e *Entry) {
		if e.Flow != domain.FlowValidating {
			return
		}
		moved = true
		e.Flow = domain.FlowGeneratingProof
		e.Failure = nil
		e.SubmittedAt = &submitted
		e.ProofSeenAt = nil
		if e.Trade != nil && e.Trade.ReceiptUploadedAt == nil {
			t := submitted
			e.Trade.ReceiptUploadedAt = &t
		}
	})
	if moved && s.poller != nil {
		s.poller.Start(tradeID)
	}
	return res, nil
}
