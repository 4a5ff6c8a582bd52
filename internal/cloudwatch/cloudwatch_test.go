package cloudwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"
	"github.com/loglens/loglens/pkg/models"
)

func TestClassifyErrorMapsKnownExceptions(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"not found", &cwtypes.ResourceNotFoundException{Message: strPtr("gone")}, ErrNotFound},
		{"limit exceeded", &cwtypes.LimitExceededException{Message: strPtr("too many")}, ErrRateLimit},
		{"invalid parameter", &cwtypes.InvalidParameterException{Message: strPtr("bad")}, ErrInvalidParam},
		{"unrecognized", fakeAPIError{code: "AccessDeniedException"}, ErrAuthentication},
		{"throttled", fakeAPIError{code: "ThrottlingException"}, ErrRateLimit},
		{"unknown", errors.New("boom"), ErrGeneric},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(tc.err)
			var cwErr *Error
			if !errors.As(got, &cwErr) {
				t.Fatalf("classifyError(%v) did not return *Error: %v", tc.err, got)
			}
			if cwErr.Kind != tc.want {
				t.Errorf("kind = %q, want %q", cwErr.Kind, tc.want)
			}
			if cwErr.Unwrap() != tc.err {
				t.Errorf("Unwrap() did not return the original error")
			}
		})
	}
}

func TestToEventsMapsFields(t *testing.T) {
	ts := int64(1700000000000)
	events := []cwtypes.FilteredLogEvent{
		{Message: strPtr("hello"), Timestamp: &ts, LogStreamName: strPtr("stream-1")},
	}
	out := toEvents("/aws/lambda/test", events)
	if len(out) != 1 {
		t.Fatalf("expected 1 event, got %d", len(out))
	}
	if out[0].LogGroup != "/aws/lambda/test" || out[0].Message != "hello" || out[0].StreamID != "stream-1" {
		t.Errorf("unexpected mapped event: %+v", out[0])
	}
	if !out[0].Timestamp.Equal(time.UnixMilli(ts)) {
		t.Errorf("timestamp mismatch: got %v", out[0].Timestamp)
	}
}

type fakeAdapter struct {
	groups []LogGroupSummary
	next   string
}

func (f fakeAdapter) ListLogGroups(ctx context.Context, in ListLogGroupsInput) (ListLogGroupsOutput, error) {
	return ListLogGroupsOutput{Groups: f.groups, NextPageToken: f.next}, nil
}

func (f fakeAdapter) FetchLogs(ctx context.Context, in FetchLogsInput) (FetchLogsOutput, error) {
	return FetchLogsOutput{}, nil
}

func (f fakeAdapter) SearchLogs(ctx context.Context, in SearchLogsInput) (SearchLogsOutput, error) {
	return SearchLogsOutput{}, nil
}

func TestListerAdapterTranslatesSummaries(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter := ListerAdapter{Adapter: fakeAdapter{
		groups: []LogGroupSummary{
			{Name: "/aws/lambda/foo", StoredBytes: 1024, RetentionDays: 14, CreationTime: created},
		},
		next: "token-2",
	}}

	groups, next, err := adapter.ListLogGroups(context.Background(), "/aws/lambda", "")
	if err != nil {
		t.Fatalf("ListLogGroups: %v", err)
	}
	if next != "token-2" {
		t.Errorf("next page token = %q, want token-2", next)
	}
	want := models.LogGroupInfo{Name: "/aws/lambda/foo", StoredBytes: 1024, RetentionDays: 14, CreationTime: created}
	if len(groups) != 1 || groups[0] != want {
		t.Errorf("groups = %+v, want [%+v]", groups, want)
	}
}

func TestFetchLogsRequiresLogGroup(t *testing.T) {
	a := &AWSAdapter{}
	_, err := a.FetchLogs(context.Background(), FetchLogsInput{})
	var cwErr *Error
	if !errors.As(err, &cwErr) || cwErr.Kind != ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam, got %v", err)
	}
}

func TestSearchLogsRequiresPatterns(t *testing.T) {
	a := &AWSAdapter{}
	_, err := a.SearchLogs(context.Background(), SearchLogsInput{})
	var cwErr *Error
	if !errors.As(err, &cwErr) || cwErr.Kind != ErrInvalidParam {
		t.Fatalf("expected ErrInvalidParam, got %v", err)
	}
}

func TestWithThrottleRetryRetriesOnlyThrottling(t *testing.T) {
	a := &AWSAdapter{}

	t.Run("succeeds after transient throttle", func(t *testing.T) {
		calls := 0
		err := a.withThrottleRetry(context.Background(), func() error {
			calls++
			if calls < 2 {
				return fakeAPIError{code: "ThrottlingException"}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("gives up after CloudWatchMaxAttempts", func(t *testing.T) {
		calls := 0
		err := a.withThrottleRetry(context.Background(), func() error {
			calls++
			return fakeAPIError{code: "ThrottlingException"}
		})
		if err == nil {
			t.Fatal("expected error after exhausting attempts")
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3 (CloudWatchMaxAttempts)", calls)
		}
	})

	t.Run("does not retry non-throttle errors", func(t *testing.T) {
		calls := 0
		wantErr := fakeAPIError{code: "AccessDeniedException"}
		err := a.withThrottleRetry(context.Background(), func() error {
			calls++
			return wantErr
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1 (no retry on non-throttle error)", calls)
		}
		if err != wantErr {
			t.Errorf("err = %v, want %v unwrapped", err, wantErr)
		}
	})
}

func strPtr(s string) *string { return &s }

type fakeAPIError struct {
	code string
}

func (e fakeAPIError) Error() string        { return e.code }
func (e fakeAPIError) ErrorCode() string    { return e.code }
func (e fakeAPIError) ErrorMessage() string { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }
