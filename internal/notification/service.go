package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/asmadek/omni-mst-backend/internal/multisig"
	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
	"github.com/asmadek/omni-mst-backend/internal/pkg/reject"
)

const notificationNotInvite = "error.notification.not-an-invite"

// Service records incoming room events as notifications and drives the
// invite acceptance flow. Notifications are never authoritative; anything
// actionable is corroborated elsewhere before it mutates a transaction.
type Service struct {
	Db        *gorm.DB
	Messaging messaging.Client
	Wallets   *multisig.WalletService
}

// StartIngest subscribes to the room event types worth surfacing to users.
func (s *Service) StartIngest() {
	if s.Messaging == nil {
		return
	}

	s.Messaging.Subscribe(messaging.EventRoomInvite, s.ingest(model.NotificationRoomInvite))
	s.Messaging.Subscribe(messaging.EventMstInit, s.ingest(model.NotificationApprovalInit))
	s.Messaging.Subscribe(messaging.EventMstApprove, s.ingest(model.NotificationApprovalEvent))
	s.Messaging.Subscribe(messaging.EventMstExecuted, s.ingest(model.NotificationApprovalEvent))
	s.Messaging.Subscribe(messaging.EventMstCancel, s.ingest(model.NotificationApprovalEvent))
}

func (s *Service) ingest(kind model.NotificationType) messaging.Handler {
	return func(ctx context.Context, envelope messaging.Envelope) {
		record := model.Notification{
			Type:      kind,
			RoomId:    envelope.RoomId,
			SenderKey: envelope.SenderKey,
			Payload:   string(envelope.Payload),
		}
		if result := s.Db.Create(&record); result.Error != nil {
			log.Warn().Err(result.Error).Msg("Cannot persist incoming notification")
		}
	}
}

func (s *Service) List(onlyUnread bool) ([]model.Notification, *reject.ProblemWithTrace) {
	query := s.Db.Model(&model.Notification{}).Order("created_at DESC")
	if onlyUnread {
		query = query.Where("is_read = ?", false)
	}

	var records []model.Notification
	if result := query.Find(&records); result.Error != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(result.Error), Cause: result.Error}
	}
	return records, nil
}

func (s *Service) MarkRead(notificationId uint64) *reject.ProblemWithTrace {
	result := s.Db.Model(&model.Notification{}).
		Where("id = ?", notificationId).
		Update("is_read", true)
	if result.Error != nil {
		return &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(result.Error), Cause: result.Error}
	}
	if result.RowsAffected == 0 {
		return &reject.ProblemWithTrace{
			Problem: reject.NotFoundProblem(),
			Cause:   errors.Errorf("notification %d not found", notificationId),
		}
	}
	return nil
}

// AcceptInvite joins the coordination room and materializes the invited
// multisig account locally. The invite signature is carried in the payload
// but not verified; authenticity of invites is a known gap.
func (s *Service) AcceptInvite(ctx context.Context, notificationId uint64) (*model.Wallet, *reject.ProblemWithTrace) {
	var record model.Notification
	if result := s.Db.First(&record, notificationId); result.Error != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.NotFoundProblem(), Cause: result.Error}
	}
	if record.Type != model.NotificationRoomInvite {
		err := errors.Errorf("notification %d is not a room invite", notificationId)
		return nil, &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Notification is not a room invite").
				WithStatus(http.StatusConflict).
				WithCode(notificationNotInvite).
				Build(),
			Cause: err,
		}
	}

	var invite messaging.RoomInvite
	if err := json.Unmarshal([]byte(record.Payload), &invite); err != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.BodyParseProblem(), Cause: err}
	}

	if s.Messaging != nil {
		if err := s.Messaging.JoinRoom(ctx, record.RoomId); err != nil {
			log.Warn().Err(err).Msg("Cannot join coordination room, continuing with wallet creation")
		}
	}

	wallet, problem := s.Wallets.CreateFromInvite(
		ctx,
		invite.MstAccount.AccountName,
		record.RoomId,
		invite.MstAccount.ChainId,
		invite.MstAccount.Threshold,
		invite.MstAccount.Signatories,
	)
	if problem != nil {
		return nil, problem
	}

	if problem := s.MarkRead(notificationId); problem != nil {
		log.Warn().Err(problem.Cause).Msg("Cannot mark invite notification read")
	}
	return wallet, nil
}
