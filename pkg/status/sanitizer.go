// Package status turns activation and sampling errors into text that is safe to
// show outside the process. It maps AWS and SSH failure reasons to operator-facing
// messages and redacts credentials and infrastructure identifiers.
package status

import (
	"regexp"
	"strings"
)

// StatusSanitizer maps raw error text to operator-facing messages and removes
// sensitive information from it.
type StatusSanitizer struct {
	// errorMappings maps a reason keyword found in the error text to a message
	errorMappings map[string]SanitizedError
	// sensitivePatterns contains regex patterns for sensitive information
	sensitivePatterns []*sensitivePattern
}

// SanitizedError represents an operator-facing error message with a suggestion.
type SanitizedError struct {
	UserMessage string `json:"userMessage"`
	Suggestion  string `json:"suggestion"`
	ErrorCode   string `json:"errorCode"`
}

type sensitivePattern struct {
	pattern     *regexp.Regexp
	replacement string
	description string
}

// DefaultErrorMappings covers the EC2 API error codes and SSH failures an activation runs into.
// Keys are matched case-insensitively as substrings of the error text.
var DefaultErrorMappings = map[string]SanitizedError{
	// EC2 StartInstances / DescribeInstances
	"InsufficientInstanceCapacity": {
		UserMessage: "AWS has no capacity for this instance type in the availability zone",
		Suggestion:  "Retry later or move the node to another availability zone",
		ErrorCode:   "EC2_NO_CAPACITY",
	},
	"IncorrectInstanceState": {
		UserMessage: "Instance cannot be started from its current state",
		Suggestion:  "Wait for the instance to finish stopping before activating it again",
		ErrorCode:   "EC2_BAD_STATE",
	},
	"InvalidInstanceID": {
		UserMessage: "Instance id does not exist in this region",
		Suggestion:  "Check autoscaler.nodes ids and aws.region",
		ErrorCode:   "EC2_UNKNOWN_INSTANCE",
	},
	"UnauthorizedOperation": {
		UserMessage: "AWS credentials are not allowed to manage this instance",
		Suggestion:  "Grant ec2:StartInstances and ec2:DescribeInstances to the controller's role",
		ErrorCode:   "EC2_UNAUTHORIZED",
	},
	"RequestLimitExceeded": {
		UserMessage: "EC2 API rate limit exceeded",
		Suggestion:  "Increase autoscaler.address_retry_delay",
		ErrorCode:   "EC2_THROTTLED",
	},
	"timed out waiting for running state": {
		UserMessage: "Instance did not reach the running state in time",
		Suggestion:  "Increase autoscaler.running_timeout or check the instance's console output",
		ErrorCode:   "EC2_RUNNING_TIMEOUT",
	},
	"public address acquisition exhausted": {
		UserMessage: "Instance is running but never received a public address",
		Suggestion:  "Check that the subnet assigns public IPv4 addresses or attach an Elastic IP",
		ErrorCode:   "EC2_NO_ADDRESS",
	},
	// SSH
	"unable to authenticate": {
		UserMessage: "Remote login was rejected",
		Suggestion:  "Check the node credential and remote.user",
		ErrorCode:   "SSH_AUTH_FAILED",
	},
	"knownhosts": {
		UserMessage: "Remote host key is not trusted",
		Suggestion:  "Add the instance's host key to remote.known_hosts",
		ErrorCode:   "SSH_HOST_KEY",
	},
	"connection refused": {
		UserMessage: "Remote host refused the SSH connection",
		Suggestion:  "Check that sshd is running and the security group allows remote.port",
		ErrorCode:   "SSH_REFUSED",
	},
	"i/o timeout": {
		UserMessage: "Remote host did not answer in time",
		Suggestion:  "Check the security group and network ACLs, or raise remote.connect_timeout",
		ErrorCode:   "SSH_TIMEOUT",
	},
	// Credential references
	"ResourceNotFoundException": {
		UserMessage: "Node credential secret does not exist",
		Suggestion:  "Check the secretsmanager: reference in the node's credential",
		ErrorCode:   "CRED_NOT_FOUND",
	},
	"credential not found": {
		UserMessage: "Node credential could not be found",
		Suggestion:  "Check the node's credential reference",
		ErrorCode:   "CRED_NOT_FOUND",
	},
	// Queue sampling
	"queue depth unavailable": {
		UserMessage: "Queue depth could not be read",
		Suggestion:  "Check the queue configuration and the controller's access to it",
		ErrorCode:   "QUEUE_UNAVAILABLE",
	},
}

var defaultSanitizedError = SanitizedError{
	UserMessage: "Activation failed",
	Suggestion:  "See the controller logs for details",
	ErrorCode:   "ERROR",
}

// NewStatusSanitizer creates a sanitizer with the default mappings and patterns
func NewStatusSanitizer() *StatusSanitizer {
	mappings := make(map[string]SanitizedError, len(DefaultErrorMappings))
	for k, v := range DefaultErrorMappings {
		mappings[k] = v
	}
	return &StatusSanitizer{
		errorMappings:     mappings,
		sensitivePatterns: buildDefaultSensitivePatterns(),
	}
}

// buildDefaultSensitivePatterns patterns are applied in order
func buildDefaultSensitivePatterns() []*sensitivePattern {
	return []*sensitivePattern{
		// Key material
		{
			pattern:     regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
			replacement: "[private-key]",
			description: "PEM private key",
		},
		{
			pattern:     regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`),
			replacement: "[aws-access-key]",
			description: "AWS access key id",
		},
		{
			pattern:     regexp.MustCompile(`\barn:aws[a-z-]*:secretsmanager:[^\s"']+`),
			replacement: "[secret-arn]",
			description: "Secrets Manager ARN",
		},
		// Account ids inside any other ARN
		{
			pattern:     regexp.MustCompile(`\b(arn:aws[a-z-]*:[a-z0-9-]+:[a-z0-9-]*:)\d{12}:`),
			replacement: "${1}[account]:",
			description: "AWS account id in ARN",
		},
		{
			pattern:     regexp.MustCompile(`https?://[^:/\s]+:[^@/\s]+@[a-zA-Z0-9][-a-zA-Z0-9_.]*`),
			replacement: "[url-with-credentials]",
			description: "URL with credentials",
		},
		// Private addresses; public worker addresses are reported on purpose
		{
			pattern:     regexp.MustCompile(`\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "10.x.x.x private IP",
		},
		{
			pattern:     regexp.MustCompile(`\b172\.(1[6-9]|2[0-9]|3[0-1])\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "172.16-31.x.x private IP",
		},
		{
			pattern:     regexp.MustCompile(`\b192\.168\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "192.168.x.x private IP",
		},
		{
			pattern:     regexp.MustCompile(`\bip-\d{1,3}-\d{1,3}-\d{1,3}-\d{1,3}(?:\.[a-z0-9-]+)*\.(?:compute\.)?internal\b`),
			replacement: "[internal-host]",
			description: "EC2 private DNS name",
		},
		// AWS request ids
		{
			pattern:     regexp.MustCompile(`\b[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}\b`),
			replacement: "[id]",
			description: "request id",
		},
	}
}

// Sanitize returns the operator-facing message for raw error text. The first mapping
// whose key occurs in the text wins; keys are tried longest first so specific
// reasons beat generic ones.
func (s *StatusSanitizer) Sanitize(message string) *SanitizedError {
	if message == "" {
		return nil
	}

	messageLower := strings.ToLower(message)
	best := ""
	for key := range s.errorMappings {
		if len(key) > len(best) && strings.Contains(messageLower, strings.ToLower(key)) {
			best = key
		}
	}
	if best != "" {
		sanitized := s.errorMappings[best]
		return &sanitized
	}

	fallback := defaultSanitizedError
	return &fallback
}

// SanitizeSensitiveInfo removes sensitive information from a message: key
// material, access key ids, secret and account identifiers, credentialed URLs,
// private addresses and request ids.
func (s *StatusSanitizer) SanitizeSensitiveInfo(message string) string {
	if message == "" {
		return message
	}

	result := message
	for _, sp := range s.sensitivePatterns {
		result = sp.pattern.ReplaceAllString(result, sp.replacement)
	}

	return result
}

// AddErrorMapping adds or replaces a reason mapping
func (s *StatusSanitizer) AddErrorMapping(reason string, sanitized SanitizedError) {
	s.errorMappings[reason] = sanitized
}

// AddSensitivePattern appends a redaction pattern
func (s *StatusSanitizer) AddSensitivePattern(pattern *regexp.Regexp, replacement, description string) {
	s.sensitivePatterns = append(s.sensitivePatterns, &sensitivePattern{
		pattern:     pattern,
		replacement: replacement,
		description: description,
	})
}
