package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"

	"github.com/loglens/loglens/internal/backoff"
	"github.com/loglens/loglens/pkg/models"
)

// Config configures AWSAdapter.
type Config struct {
	Region string
}

// AWSAdapter is a thin wrapper around aws-sdk-go-v2's CloudWatch Logs
// client implementing Adapter. Credential discovery, retries, and
// request signing are left entirely to the SDK's default chain.
type AWSAdapter struct {
	client *cloudwatchlogs.Client
}

// NewAWSAdapter constructs an AWSAdapter, loading AWS credentials from
// the default chain.
func NewAWSAdapter(ctx context.Context, cfg Config) (*AWSAdapter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudwatch: load aws config: %w", err)
	}
	return &AWSAdapter{client: cloudwatchlogs.NewFromConfig(awsCfg)}, nil
}

// ListLogGroups implements Adapter.
func (a *AWSAdapter) ListLogGroups(ctx context.Context, in ListLogGroupsInput) (ListLogGroupsOutput, error) {
	limit := in.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	req := &cloudwatchlogs.DescribeLogGroupsInput{Limit: aws.Int32(int32(limit))}
	if in.Prefix != "" {
		req.LogGroupNamePrefix = aws.String(in.Prefix)
	}
	if in.PageToken != "" {
		req.NextToken = aws.String(in.PageToken)
	}

	var resp *cloudwatchlogs.DescribeLogGroupsOutput
	err := a.withThrottleRetry(ctx, func() error {
		var callErr error
		resp, callErr = a.client.DescribeLogGroups(ctx, req)
		return callErr
	})
	if err != nil {
		return ListLogGroupsOutput{}, classifyError(err)
	}

	out := ListLogGroupsOutput{Groups: make([]LogGroupSummary, 0, len(resp.LogGroups))}
	for _, g := range resp.LogGroups {
		summary := LogGroupSummary{
			Name:        aws.ToString(g.LogGroupName),
			StoredBytes: aws.ToInt64(g.StoredBytes),
		}
		if g.RetentionInDays != nil {
			summary.RetentionDays = int(aws.ToInt32(g.RetentionInDays))
		}
		if g.CreationTime != nil {
			summary.CreationTime = time.UnixMilli(aws.ToInt64(g.CreationTime))
		}
		out.Groups = append(out.Groups, summary)
	}
	if resp.NextToken != nil {
		out.NextPageToken = aws.ToString(resp.NextToken)
	}
	return out, nil
}

// FetchLogs implements Adapter using FilterLogEvents scoped to a
// single log group.
func (a *AWSAdapter) FetchLogs(ctx context.Context, in FetchLogsInput) (FetchLogsOutput, error) {
	if in.LogGroup == "" {
		return FetchLogsOutput{}, &Error{Kind: ErrInvalidParam, Message: "cloudwatch: log_group is required"}
	}
	limit := in.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	req := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(in.LogGroup),
		Limit:        aws.Int32(int32(limit)),
	}
	if !in.StartTime.IsZero() {
		req.StartTime = aws.Int64(in.StartTime.UnixMilli())
	}
	if !in.EndTime.IsZero() {
		req.EndTime = aws.Int64(in.EndTime.UnixMilli())
	}
	if in.FilterPattern != "" {
		req.FilterPattern = aws.String(in.FilterPattern)
	}

	var resp *cloudwatchlogs.FilterLogEventsOutput
	err := a.withThrottleRetry(ctx, func() error {
		var callErr error
		resp, callErr = a.client.FilterLogEvents(ctx, req)
		return callErr
	})
	if err != nil {
		return FetchLogsOutput{}, classifyError(err)
	}

	out := FetchLogsOutput{Events: toEvents(in.LogGroup, resp.Events)}
	out.HasMore = resp.NextToken != nil
	return out, nil
}

// SearchLogs implements Adapter by fanning a filter-pattern search out
// across every log group matching any of LogGroupPatterns.
func (a *AWSAdapter) SearchLogs(ctx context.Context, in SearchLogsInput) (SearchLogsOutput, error) {
	if len(in.LogGroupPatterns) == 0 {
		return SearchLogsOutput{}, &Error{Kind: ErrInvalidParam, Message: "cloudwatch: log_group_patterns is required"}
	}
	limit := in.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	groups, err := a.resolveGroups(ctx, in.LogGroupPatterns)
	if err != nil {
		return SearchLogsOutput{}, err
	}
	if len(groups) == 0 {
		return SearchLogsOutput{}, &Error{Kind: ErrNotFound, Message: "cloudwatch: no log groups matched the given patterns"}
	}

	out := SearchLogsOutput{GroupsSearch: groups}
	remaining := limit
	for _, group := range groups {
		if remaining <= 0 {
			out.HasMore = true
			break
		}
		req := &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName: aws.String(group),
			Limit:        aws.Int32(int32(remaining)),
		}
		if in.SearchPattern != "" {
			req.FilterPattern = aws.String(in.SearchPattern)
		}
		if !in.StartTime.IsZero() {
			req.StartTime = aws.Int64(in.StartTime.UnixMilli())
		}
		if !in.EndTime.IsZero() {
			req.EndTime = aws.Int64(in.EndTime.UnixMilli())
		}

		var resp *cloudwatchlogs.FilterLogEventsOutput
		err := a.withThrottleRetry(ctx, func() error {
			var callErr error
			resp, callErr = a.client.FilterLogEvents(ctx, req)
			return callErr
		})
		if err != nil {
			return SearchLogsOutput{}, classifyError(err)
		}
		events := toEvents(group, resp.Events)
		out.Events = append(out.Events, events...)
		remaining -= len(events)
		if resp.NextToken != nil {
			out.HasMore = true
		}
	}
	return out, nil
}

// resolveGroups expands each pattern to concrete log-group names via a
// prefix-scoped DescribeLogGroups call, deduplicating the result.
func (a *AWSAdapter) resolveGroups(ctx context.Context, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var resolved []string
	for _, pattern := range patterns {
		var resp *cloudwatchlogs.DescribeLogGroupsOutput
		err := a.withThrottleRetry(ctx, func() error {
			var callErr error
			resp, callErr = a.client.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
				LogGroupNamePrefix: aws.String(pattern),
				Limit:              aws.Int32(50),
			})
			return callErr
		})
		if err != nil {
			return nil, classifyError(err)
		}
		for _, g := range resp.LogGroups {
			name := aws.ToString(g.LogGroupName)
			if name != "" && !seen[name] {
				seen[name] = true
				resolved = append(resolved, name)
			}
		}
	}
	return resolved, nil
}

func toEvents(logGroup string, events []cwtypes.FilteredLogEvent) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, e := range events {
		out = append(out, LogEvent{
			LogGroup:  logGroup,
			Timestamp: time.UnixMilli(aws.ToInt64(e.Timestamp)),
			Message:   aws.ToString(e.Message),
			StreamID:  aws.ToString(e.LogStreamName),
		})
	}
	return out
}

// withThrottleRetry runs fn, retrying with CloudWatchThrottlePolicy when
// the call fails with a ThrottlingException/LimitExceededException.
// Every other error is returned immediately without a retry, matching
// the upstream client's retry=retry_if_exception_type(RateLimitError)
// behavior: auth and parameter errors don't benefit from waiting.
func (a *AWSAdapter) withThrottleRetry(ctx context.Context, fn func() error) error {
	policy := backoff.CloudWatchThrottlePolicy()
	var lastErr error
	for attempt := 1; attempt <= backoff.CloudWatchMaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var cwErr *Error
		if !errors.As(classifyError(lastErr), &cwErr) || cwErr.Kind != ErrRateLimit {
			return lastErr
		}
		if attempt < backoff.CloudWatchMaxAttempts {
			if sleepErr := backoff.SleepWithBackoff(ctx, policy, attempt); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return lastErr
}

func classifyError(err error) error {
	var rnf *cwtypes.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return &Error{Kind: ErrNotFound, Message: "cloudwatch: resource not found", Cause: err}
	}
	var throttle *cwtypes.LimitExceededException
	if errors.As(err, &throttle) {
		return &Error{Kind: ErrRateLimit, Message: "cloudwatch: rate limited", Cause: err}
	}
	var invalidParam *cwtypes.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return &Error{Kind: ErrInvalidParam, Message: "cloudwatch: invalid parameter", Cause: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			return &Error{Kind: ErrAuthentication, Message: "cloudwatch: authentication failed", Cause: err}
		case "ThrottlingException":
			return &Error{Kind: ErrRateLimit, Message: "cloudwatch: rate limited", Cause: err}
		}
	}
	return &Error{Kind: ErrGeneric, Message: "cloudwatch: request failed", Cause: err}
}

// ListerAdapter bridges Adapter to loggroups.Lister, translating the
// richer CloudWatch summary type into the index's models.LogGroupInfo.
type ListerAdapter struct {
	Adapter Adapter
}

// ListLogGroups implements loggroups.Lister.
func (l ListerAdapter) ListLogGroups(ctx context.Context, prefix string, pageToken string) ([]models.LogGroupInfo, string, error) {
	out, err := l.Adapter.ListLogGroups(ctx, ListLogGroupsInput{Prefix: prefix, PageToken: pageToken, Limit: 50})
	if err != nil {
		return nil, "", err
	}
	groups := make([]models.LogGroupInfo, 0, len(out.Groups))
	for _, g := range out.Groups {
		groups = append(groups, models.LogGroupInfo{
			Name:          g.Name,
			StoredBytes:   g.StoredBytes,
			RetentionDays: g.RetentionDays,
			CreationTime:  g.CreationTime,
		})
	}
	return groups, out.NextPageToken, nil
}
