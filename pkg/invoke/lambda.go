package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaAPI is the subset of the Lambda client used by Lambda.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Lambda invokes AWS Lambda functions.
type Lambda struct {
	client LambdaAPI
	logger *slog.Logger
}

// NewLambda wraps a Lambda client.
func NewLambda(client LambdaAPI, logger *slog.Logger) (*Lambda, error) {
	if client == nil {
		return nil, errors.New("invoke: lambda client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lambda{client: client, logger: logger.With("component", "invoke.Lambda")}, nil
}

// Invoke runs function with payload. In ModeSync a proxy-style response
// ({"statusCode": n, "body": "..."}) is unwrapped into Result.
func (l *Lambda) Invoke(ctx context.Context, function string, payload any, mode Mode) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invoke: marshal payload for %s: %w", function, err)
	}

	invocationType := types.InvocationTypeRequestResponse
	if mode == ModeAsync {
		invocationType = types.InvocationTypeEvent
	}

	start := time.Now()
	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: invocationType,
		Payload:        body,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, unreachable(function, err)
	}

	l.logger.Debug("function invoked",
		"function", function,
		"mode", mode,
		"status", out.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if out.FunctionError != nil {
		return nil, parseFunctionError(function, aws.ToString(out.FunctionError), int(out.StatusCode), out.Payload)
	}

	if mode == ModeAsync {
		if out.StatusCode != 202 && (out.StatusCode < 200 || out.StatusCode >= 300) {
			return nil, &FunctionError{
				Function:   function,
				StatusCode: int(out.StatusCode),
				Message:    fmt.Sprintf("async invocation not accepted (status %d)", out.StatusCode),
			}
		}
		return nil, nil
	}

	return unwrapProxy(int(out.StatusCode), out.Payload), nil
}

// unwrapProxy converts an API-gateway style payload into a Result. Payloads
// without a numeric statusCode are returned as-is.
func unwrapProxy(status int, payload []byte) *Result {
	var proxy struct {
		StatusCode *int            `json:"statusCode"`
		Body       json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(payload, &proxy); err != nil || proxy.StatusCode == nil {
		return &Result{StatusCode: status, Body: payload}
	}

	res := &Result{StatusCode: *proxy.StatusCode}
	var s string
	if err := json.Unmarshal(proxy.Body, &s); err == nil {
		res.Body = []byte(s)
	} else {
		res.Body = proxy.Body
	}
	return res
}
