package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/khushalkhule/chatprodigy-ai/internal/store"
)

func ownedChatbotStore() *fakeStore {
	fs := authedStore()
	fs.getChatbotFn = func(_ context.Context, chatbotID int64) (store.Chatbot, error) {
		return store.Chatbot{ID: chatbotID, UserID: 7}, nil
	}
	return fs
}

func TestListStepsEndpointNormalizesOptions(t *testing.T) {
	fs := ownedChatbotStore()
	fs.listStepsFn = func(_ context.Context, chatbotID int64) ([]store.ChatbotStep, error) {
		return []store.ChatbotStep{
			{ID: 1, ChatbotID: chatbotID, StepOrder: 1, Message: "What is your name?", ResponseType: "text"},
			{ID: 2, ChatbotID: chatbotID, StepOrder: 2, Message: "Pick one", ResponseType: "options", Options: []string{"a", "b"}},
		}, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodGet, "/api/chatbot/3/steps", bearerFor(t, 7), "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(payload))
	}
	options, ok := payload[0]["options"].([]any)
	if !ok {
		t.Fatalf("expected options to be a list even when empty, got %T", payload[0]["options"])
	}
	if len(options) != 0 {
		t.Fatalf("expected empty options for a text step, got %v", options)
	}
	if payload[0]["step_order"] != float64(1) || payload[1]["step_order"] != float64(2) {
		t.Fatalf("expected steps ordered 1,2, got %s", rr.Body.String())
	}
}

func TestCreateStepEndpointAutoAssignsOrder(t *testing.T) {
	fs := ownedChatbotStore()
	fs.maxStepOrderFn = func(context.Context, int64) (int, error) { return 2, nil }
	fs.insertStepFn = func(_ context.Context, step store.ChatbotStep) (store.ChatbotStep, error) {
		step.ID = 9
		return step, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodPost, "/api/chatbot/3/steps", bearerFor(t, 7), `{"message":"What is your email?","response_type":"email"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["step_order"] != float64(3) {
		t.Fatalf("expected auto-assigned order 3, got %v", payload["step_order"])
	}
	if payload["is_required"] != true {
		t.Fatalf("expected is_required to default true, got %v", payload["is_required"])
	}
}

func TestCreateStepEndpointHonorsExplicitOrder(t *testing.T) {
	fs := ownedChatbotStore()
	fs.insertStepFn = func(_ context.Context, step store.ChatbotStep) (store.ChatbotStep, error) {
		step.ID = 9
		return step, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodPost, "/api/chatbot/3/steps", bearerFor(t, 7), `{"step_order":2,"message":"Pick one","response_type":"options","options":["a","b"]}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["step_order"] != float64(2) {
		t.Fatalf("expected explicit order 2, got %v", payload["step_order"])
	}
	options, _ := payload["options"].([]any)
	if len(options) != 2 {
		t.Fatalf("expected 2 options, got %v", payload["options"])
	}
}

func TestCreateStepEndpointRejectsUnknownResponseType(t *testing.T) {
	server := NewHTTPServer(newTestService(ownedChatbotStore()), "*")

	rr := doJSON(t, server, http.MethodPost, "/api/chatbot/3/steps", bearerFor(t, 7), `{"message":"hi","response_type":"carousel"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected code VALIDATION_ERROR, got %s", rr.Body.String())
	}
}

func TestUpdateStepEndpoint(t *testing.T) {
	fs := authedStore()
	fs.getStepWithOwnerFn = func(_ context.Context, stepID int64) (store.StepWithOwner, error) {
		return store.StepWithOwner{ChatbotStep: store.ChatbotStep{ID: stepID, ChatbotID: 3, Message: "old"}, OwnerID: 7}, nil
	}
	fs.updateStepFn = func(_ context.Context, stepID int64, patch store.StepPatch) (store.ChatbotStep, error) {
		step := store.ChatbotStep{ID: stepID, ChatbotID: 3, Message: "old", ResponseType: "text"}
		if patch.Message != nil {
			step.Message = *patch.Message
		}
		return step, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodPut, "/api/chatbot/step/10", bearerFor(t, 7), `{"message":"new prompt"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["message"] != "new prompt" {
		t.Fatalf("expected updated message, got %s", rr.Body.String())
	}
}

func TestUpdateForeignStepReturnsForbidden(t *testing.T) {
	fs := authedStore()
	fs.getStepWithOwnerFn = func(_ context.Context, stepID int64) (store.StepWithOwner, error) {
		return store.StepWithOwner{ChatbotStep: store.ChatbotStep{ID: stepID, ChatbotID: 3}, OwnerID: 8}, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodPut, "/api/chatbot/step/10", bearerFor(t, 7), `{"message":"new prompt"}`)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDeleteStepEndpointResequences(t *testing.T) {
	var resequencedChatbot int64
	fs := authedStore()
	fs.getStepWithOwnerFn = func(_ context.Context, stepID int64) (store.StepWithOwner, error) {
		return store.StepWithOwner{ChatbotStep: store.ChatbotStep{ID: stepID, ChatbotID: 3}, OwnerID: 7}, nil
	}
	fs.deleteStepAndResequenceFn = func(_ context.Context, stepID, chatbotID int64) error {
		resequencedChatbot = chatbotID
		return nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doJSON(t, server, http.MethodDelete, "/api/chatbot/step/10", bearerFor(t, 7), "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["message"] != "Step deleted successfully" {
		t.Fatalf("expected delete confirmation, got %s", rr.Body.String())
	}
	if resequencedChatbot != 3 {
		t.Fatalf("expected chatbot 3 resequenced, got %d", resequencedChatbot)
	}
}

func TestDeleteMissingStepReturnsNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(authedStore()), "*")

	rr := doJSON(t, server, http.MethodDelete, "/api/chatbot/step/10", bearerFor(t, 7), "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}
