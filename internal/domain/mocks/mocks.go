// Package mocks holds testify mocks for the domain ports.
package mocks

import (
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// CompletionClient is a mock of domain.CompletionClient.
type CompletionClient struct{ mock.Mock }

// NewCompletionClient registers AssertExpectations on cleanup.
func NewCompletionClient(t testingT) *CompletionClient {
	m := &CompletionClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *CompletionClient) Complete(ctx domain.Context, req domain.CompletionRequest) (domain.Completion, error) {
	ret := m.Called(ctx, req)
	var out domain.Completion
	if fn, ok := ret.Get(0).(func(domain.Context, domain.CompletionRequest) domain.Completion); ok {
		out = fn(ctx, req)
	} else if ret.Get(0) != nil {
		out = ret.Get(0).(domain.Completion)
	}
	return out, ret.Error(1)
}

// ReferenceSearcher is a mock of domain.ReferenceSearcher.
type ReferenceSearcher struct{ mock.Mock }

func NewReferenceSearcher(t testingT) *ReferenceSearcher {
	m := &ReferenceSearcher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ReferenceSearcher) Search(ctx domain.Context, topic string) ([]domain.Article, error) {
	ret := m.Called(ctx, topic)
	var out []domain.Article
	if ret.Get(0) != nil {
		out = ret.Get(0).([]domain.Article)
	}
	return out, ret.Error(1)
}

// ReferenceCache is a mock of domain.ReferenceCache.
type ReferenceCache struct{ mock.Mock }

func NewReferenceCache(t testingT) *ReferenceCache {
	m := &ReferenceCache{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ReferenceCache) Get(ctx domain.Context, query string) ([]domain.Citation, bool, error) {
	ret := m.Called(ctx, query)
	var out []domain.Citation
	if ret.Get(0) != nil {
		out = ret.Get(0).([]domain.Citation)
	}
	return out, ret.Bool(1), ret.Error(2)
}

func (m *ReferenceCache) Put(ctx domain.Context, entry domain.ReferenceCacheEntry) error {
	return m.Called(ctx, entry).Error(0)
}

// ConversationRepository is a mock of domain.ConversationRepository.
type ConversationRepository struct{ mock.Mock }

func NewConversationRepository(t testingT) *ConversationRepository {
	m := &ConversationRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ConversationRepository) Get(ctx domain.Context, id uuid.UUID) (domain.Conversation, error) {
	ret := m.Called(ctx, id)
	var out domain.Conversation
	if ret.Get(0) != nil {
		out = ret.Get(0).(domain.Conversation)
	}
	return out, ret.Error(1)
}

func (m *ConversationRepository) Save(ctx domain.Context, c *domain.Conversation) error {
	return m.Called(ctx, c).Error(0)
}

func (m *ConversationRepository) List(ctx domain.Context) ([]domain.ConversationSummary, error) {
	ret := m.Called(ctx)
	var out []domain.ConversationSummary
	if ret.Get(0) != nil {
		out = ret.Get(0).([]domain.ConversationSummary)
	}
	return out, ret.Error(1)
}

func (m *ConversationRepository) Rename(ctx domain.Context, id uuid.UUID, title string) error {
	return m.Called(ctx, id, title).Error(0)
}

func (m *ConversationRepository) Delete(ctx domain.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

// EventPublisher is a mock of domain.EventPublisher.
type EventPublisher struct{ mock.Mock }

func NewEventPublisher(t testingT) *EventPublisher {
	m := &EventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *EventPublisher) PublishResponse(ctx domain.Context, ev domain.ResponseEvent) error {
	return m.Called(ctx, ev).Error(0)
}
