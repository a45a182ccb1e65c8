package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ValidationResult is returned by a ValidatorEx to tell the router what to
// do with a message: forward it, drop it silently, or drop it and penalize
// the sender.
type ValidationResult int

const (
	ValidationAccept ValidationResult = iota
	ValidationReject
	ValidationIgnore
)

// ValidatorEx is the extended validator signature: it can distinguish a
// message that's merely uninteresting (Ignore, no penalty) from one that's
// actively malformed (Reject, penalized).
type ValidatorEx func(ctx context.Context, pid peer.ID, msg *Message) ValidationResult

// Validator is either a bool-returning function (legacy, Accept/Reject
// only) or a ValidatorEx. RegisterTopicValidator accepts both shapes and
// normalizeValidator converts to ValidatorEx internally.
type Validator interface{}

func normalizeValidator(val Validator) (ValidatorEx, error) {
	switch v := val.(type) {
	case func(ctx context.Context, pid peer.ID, msg *Message) bool:
		return func(ctx context.Context, pid peer.ID, msg *Message) ValidationResult {
			if v(ctx, pid, msg) {
				return ValidationAccept
			}
			return ValidationReject
		}, nil
	case ValidatorEx:
		return v, nil
	case func(ctx context.Context, pid peer.ID, msg *Message) ValidationResult:
		return ValidatorEx(v), nil
	default:
		return nil, fmt.Errorf("pubsub: unsupported validator signature %T", val)
	}
}

// addValReq is sent on PubSub.addVal to register a per-topic validator.
type addValReq struct {
	topic           string
	validate        Validator
	validateTimeout time.Duration
	validateThrottle int
	validateInline  bool
	resp            chan error
}

// rmValReq is sent on PubSub.rmVal to unregister a per-topic validator.
type rmValReq struct {
	topic string
	resp  chan error
}

// ValidatorOpt configures a RegisterTopicValidator call.
type ValidatorOpt func(*addValReq) error

// WithValidatorTimeout sets the deadline of the context handed to the
// validator; the validator's own result decides what happens to the message
// once that deadline passes.
func WithValidatorTimeout(timeout time.Duration) ValidatorOpt {
	return func(addVal *addValReq) error {
		addVal.validateTimeout = timeout
		return nil
	}
}

// WithValidatorConcurrency bounds how many instances of this topic's
// validator may run at once; messages beyond the throttle are rejected
// with rejectValidationThrottled.
func WithValidatorConcurrency(n int) ValidatorOpt {
	return func(addVal *addValReq) error {
		addVal.validateThrottle = n
		return nil
	}
}

// WithValidatorInline runs the validator synchronously in the main event
// loop instead of spawning a goroutine; only safe for validators that
// never block.
func WithValidatorInline(inline bool) ValidatorOpt {
	return func(addVal *addValReq) error {
		addVal.validateInline = inline
		return nil
	}
}

const (
	defaultValidateTimeout   = 150 * time.Millisecond
	defaultValidateThrottle  = 8192
)

// topicVal is one topic's registered validator plus its throttling state.
type topicVal struct {
	topic     string
	validate  ValidatorEx
	timeout   time.Duration
	inline    bool
	throttle  chan struct{}
}

// validation is C3's message-validation pipeline: every incoming message
// passes through the configured MessageValidator policy (the protocol-
// level signature check) before any registered per-topic application
// validator gets to see it.
type validation struct {
	p *PubSub

	mx       sync.Mutex
	topics   map[string]*topicVal

	// policy is the protocol-level validator (None/Anonymous/Permissive/
	// Strict); defaults to a policy derived from PubSub.signStrict.
	policy MessageValidator
}

func newValidation() *validation {
	return &validation{
		topics: make(map[string]*topicVal),
	}
}

// WithMessageValidationPolicy overrides the protocol-level MessageValidator
// (C3); the default is derived from WithStrictSignatureVerification.
func WithMessageValidationPolicy(policy MessageValidator) Option {
	return func(p *PubSub) error {
		p.val.policy = policy
		return nil
	}
}

// Start wires the validation pipeline to its owning PubSub.
func (v *validation) Start(p *PubSub) {
	v.p = p
	if v.policy == nil {
		if p.signStrict {
			v.policy = StrictValidator{}
		} else {
			v.policy = PermissiveValidator{}
		}
	}
}

// AddValidator installs or replaces the validator for req.topic. Only
// called from processLoop.
func (v *validation) AddValidator(req *addValReq) {
	val, err := normalizeValidator(req.validate)
	if err != nil {
		req.resp <- err
		return
	}

	timeout := req.validateTimeout
	if timeout == 0 {
		timeout = defaultValidateTimeout
	}
	throttle := req.validateThrottle
	if throttle == 0 {
		throttle = defaultValidateThrottle
	}

	tv := &topicVal{
		topic:    req.topic,
		validate: val,
		timeout:  timeout,
		inline:   req.validateInline,
		throttle: make(chan struct{}, throttle),
	}

	v.mx.Lock()
	v.topics[req.topic] = tv
	v.mx.Unlock()

	req.resp <- nil
}

// RemoveValidator removes the validator for req.topic. Only called from
// processLoop.
func (v *validation) RemoveValidator(req *rmValReq) {
	v.mx.Lock()
	_, ok := v.topics[req.topic]
	delete(v.topics, req.topic)
	v.mx.Unlock()

	if !ok {
		req.resp <- fmt.Errorf("no validator for topic %s", req.topic)
		return
	}
	req.resp <- nil
}

func (v *validation) validatorFor(topics []string) *topicVal {
	v.mx.Lock()
	defer v.mx.Unlock()
	for _, t := range topics {
		if tv, ok := v.topics[t]; ok {
			return tv
		}
	}
	return nil
}

// Push runs msg through the protocol-level validator policy and, if it
// passes, the per-topic application validator (synchronously if none is
// registered or it's marked inline, asynchronously otherwise). It reports
// true when the caller (pushMsg) should immediately treat the message as
// accepted (mark seen, publish); an async validation instead delivers the
// message to p.sendMsg itself once it completes.
func (v *validation) Push(src peer.ID, msg *Message) bool {
	if reason, ok := v.checkPolicy(msg); !ok {
		v.p.tracer.RejectMessage(msg, reason)
		return false
	}

	tv := v.validatorFor(msg.GetTopicIDs())
	if tv == nil {
		return true
	}

	if tv.inline {
		return v.runInline(tv, src, msg)
	}

	select {
	case tv.throttle <- struct{}{}:
		go v.runAsync(tv, src, msg)
	default:
		log.Debugf("validation throttled for topic %s", tv.topic)
		v.p.tracer.RejectMessage(msg, rejectValidationThrottled)
	}
	return false
}

func (v *validation) runInline(tv *topicVal, src peer.ID, msg *Message) bool {
	ctx, cancel := context.WithTimeout(v.p.ctx, tv.timeout)
	defer cancel()

	switch tv.validate(ctx, src, msg) {
	case ValidationAccept:
		return true
	case ValidationIgnore:
		v.p.tracer.RejectMessage(msg, rejectValidationIgnored)
		return false
	default:
		v.p.tracer.RejectMessage(msg, rejectValidationFailed)
		return false
	}
}

func (v *validation) runAsync(tv *topicVal, src peer.ID, msg *Message) {
	defer func() { <-tv.throttle }()

	ctx, cancel := context.WithTimeout(v.p.ctx, tv.timeout)
	defer cancel()

	result := tv.validate(ctx, src, msg)

	switch result {
	case ValidationAccept:
		id := v.p.msgID(msg.Message)
		if v.p.markSeen(id) {
			select {
			case v.p.sendMsg <- msg:
			case <-v.p.ctx.Done():
			}
		}
	case ValidationIgnore:
		v.p.tracer.RejectMessage(msg, rejectValidationIgnored)
	default:
		v.p.tracer.RejectMessage(msg, rejectValidationFailed)
	}
}

// checkPolicy applies the protocol-level MessageValidator (C3) ahead of
// any application validator. Returns the reject reason and false when the
// message should be dropped outright.
func (v *validation) checkPolicy(msg *Message) (string, bool) {
	if v.policy == nil {
		return "", true
	}
	if err := v.policy.Validate(msg.Message); err != nil {
		return rejectInvalidSignature, false
	}
	return "", true
}
