package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"crosspost/internal/channel"
	"crosspost/internal/domain"
	"crosspost/internal/service/mocks"
)

type OrchestratorTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	generator *mocks.MockGenerator
	ledger    *mocks.MockLedger
	store     *mocks.MockStateStore
	registry  *channel.Registry

	logger *slog.Logger
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.generator = mocks.NewMockGenerator(s.ctrl)
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.store = mocks.NewMockStateStore(s.ctrl)
	s.registry = channel.NewRegistry([]channel.Spec{
		{ChannelID: "ig", CharacterLimit: 2200, TagSeparator: " ", RelayEligible: true},
		{ChannelID: "li", CharacterLimit: 3000, TagSeparator: " ", RelayEligible: true},
	})

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func (s *OrchestratorTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestOrchestratorTestSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) newOrchestrator(opts GenerationOptions) *GenerationOrchestrator {
	if opts.TaskTimeout == 0 {
		opts.TaskTimeout = 5 * time.Second
	}
	return NewGenerationOrchestrator(s.registry, s.generator, s.ledger, s.store, s.logger, opts)
}

func (s *OrchestratorTestSuite) brief() domain.Brief {
	return domain.Brief{ID: "b1", SourceText: "Launch day!", CreatedAt: time.Now().UTC()}
}

func (s *OrchestratorTestSuite) TestGenerate_EmptyBrief() {
	orch := s.newOrchestrator(GenerationOptions{})

	_, err := orch.Generate(context.Background(), "owner", domain.Brief{ID: "b1"}, []string{"ig"})

	s.ErrorIs(err, domain.ErrInvalidRequest)
}

func (s *OrchestratorTestSuite) TestGenerate_EmptyChannelList() {
	orch := s.newOrchestrator(GenerationOptions{})

	_, err := orch.Generate(context.Background(), "owner", s.brief(), nil)

	s.ErrorIs(err, domain.ErrInvalidRequest)
}

func (s *OrchestratorTestSuite) TestGenerate_UnknownChannel() {
	orch := s.newOrchestrator(GenerationOptions{})

	_, err := orch.Generate(context.Background(), "owner", s.brief(), []string{"ig", "myspace"})

	s.ErrorIs(err, domain.ErrInvalidRequest)
}

func (s *OrchestratorTestSuite) TestGenerate_PartialFailure() {
	orch := s.newOrchestrator(GenerationOptions{})
	brief := s.brief()

	igSpec, _ := s.registry.Get("ig")
	liSpec, _ := s.registry.Get("li")

	s.generator.EXPECT().Generate(gomock.Any(), igSpec, brief.SourceText).
		Return("**Launch day!** #launch", nil)
	s.generator.EXPECT().Generate(gomock.Any(), liSpec, brief.SourceText).
		Return("", errors.New("upstream timeout"))

	s.store.EXPECT().SaveBrief(gomock.Any(), brief).Return(nil)
	s.store.EXPECT().SaveVariant(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	variants, err := orch.Generate(context.Background(), "owner", brief, []string{"ig", "li"})

	s.NoError(err)
	s.Len(variants, 2)

	ig := variants["ig"]
	s.Equal(domain.VariantOk, ig.Status)
	s.Equal("Launch day!", ig.Body)
	s.Equal([]string{"#launch"}, ig.Tags)
	s.Equal(11, ig.CharCount)
	s.Equal(2200-11, ig.Remaining)

	li := variants["li"]
	s.Equal(domain.VariantFailed, li.Status)
	s.Contains(li.FailReason, "upstream timeout")
}

func (s *OrchestratorTestSuite) TestGenerate_DuplicateTagsPreserved() {
	orch := s.newOrchestrator(GenerationOptions{})
	brief := s.brief()

	igSpec, _ := s.registry.Get("ig")
	s.generator.EXPECT().Generate(gomock.Any(), igSpec, brief.SourceText).
		Return("# Big news\n- first #launch\n- second #launch #team", nil)

	s.store.EXPECT().SaveBrief(gomock.Any(), brief).Return(nil)
	s.store.EXPECT().SaveVariant(gomock.Any(), gomock.Any()).Return(nil)

	variants, err := orch.Generate(context.Background(), "owner", brief, []string{"ig"})

	s.NoError(err)
	s.Equal([]string{"#launch", "#launch", "#team"}, variants["ig"].Tags)
}

func (s *OrchestratorTestSuite) TestGenerate_InsufficientCreditSkipsTask() {
	orch := s.newOrchestrator(GenerationOptions{CreditsEnabled: true, GenerationCost: 2})
	brief := s.brief()

	igSpec, _ := s.registry.Get("ig")

	s.ledger.EXPECT().Deduct(gomock.Any(), "owner", int64(2), "generation:ig").
		Return(int64(3), true, nil)
	s.ledger.EXPECT().Deduct(gomock.Any(), "owner", int64(2), "generation:li").
		Return(int64(1), false, nil)

	// The rejected channel's task is never started.
	s.generator.EXPECT().Generate(gomock.Any(), igSpec, brief.SourceText).
		Return("adapted text", nil)

	s.store.EXPECT().SaveBrief(gomock.Any(), brief).Return(nil)
	s.store.EXPECT().SaveVariant(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	variants, err := orch.Generate(context.Background(), "owner", brief, []string{"ig", "li"})

	s.NoError(err)
	s.Equal(domain.VariantOk, variants["ig"].Status)
	s.Equal(domain.VariantFailed, variants["li"].Status)
	s.Equal("insufficient_credit", variants["li"].FailReason)
}

func (s *OrchestratorTestSuite) TestGenerate_MixedCreditGateUnderConcurrency() {
	orch := s.newOrchestrator(GenerationOptions{CreditsEnabled: true, GenerationCost: 1})
	brief := s.brief()

	// "li" is rejected by the gate while "ig" tasks are in flight; repeated
	// runs exercise the interleaving of gate-side and task-side result writes.
	s.ledger.EXPECT().Deduct(gomock.Any(), "owner", int64(1), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, _ int64, reason string) (int64, bool, error) {
			return 1, reason == "generation:ig", nil
		},
	).AnyTimes()
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any(), brief.SourceText).DoAndReturn(
		func(context.Context, channel.Spec, string) (string, error) {
			time.Sleep(time.Millisecond)
			return "adapted text", nil
		},
	).AnyTimes()
	s.store.EXPECT().SaveBrief(gomock.Any(), brief).Return(nil).AnyTimes()
	s.store.EXPECT().SaveVariant(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	for i := 0; i < 50; i++ {
		variants, err := orch.Generate(context.Background(), "owner", brief, []string{"ig", "li"})
		s.Require().NoError(err)
		s.Require().Len(variants, 2)
		s.Equal(domain.VariantOk, variants["ig"].Status)
		s.Equal(domain.VariantFailed, variants["li"].Status)
		s.Equal(insufficientCreditReason, variants["li"].FailReason)
	}
}

func (s *OrchestratorTestSuite) TestGenerate_TaskTimeoutIsolated() {
	orch := s.newOrchestrator(GenerationOptions{TaskTimeout: 20 * time.Millisecond})
	brief := s.brief()

	igSpec, _ := s.registry.Get("ig")
	liSpec, _ := s.registry.Get("li")

	s.generator.EXPECT().Generate(gomock.Any(), igSpec, brief.SourceText).DoAndReturn(
		func(ctx context.Context, _ channel.Spec, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	)
	s.generator.EXPECT().Generate(gomock.Any(), liSpec, brief.SourceText).
		Return("fast one", nil)

	s.store.EXPECT().SaveBrief(gomock.Any(), brief).Return(nil)
	s.store.EXPECT().SaveVariant(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	variants, err := orch.Generate(context.Background(), "owner", brief, []string{"ig", "li"})

	s.NoError(err)
	s.Equal(domain.VariantFailed, variants["ig"].Status)
	s.Equal(domain.VariantOk, variants["li"].Status)
}

func (s *OrchestratorTestSuite) TestDeleteBrief() {
	orch := s.newOrchestrator(GenerationOptions{})

	s.store.EXPECT().DeleteBrief(gomock.Any(), "b1").Return(nil)

	s.NoError(orch.DeleteBrief(context.Background(), "b1"))
	s.ErrorIs(orch.DeleteBrief(context.Background(), ""), domain.ErrInvalidRequest)
}
