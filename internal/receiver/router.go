// Package receiver accepts SNS push notifications over HTTP, validates
// them and relays alarm state changes as passive check results.
//
// Every request is handled independently with no shared mutable state;
// the command pipe and freshness file are opened per request in append
// mode. A non-2xx reply makes SNS retry delivery, which is the only retry
// mechanism this side offers.
package receiver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/huitmon/cloudwatch-nagios-bridge/internal/config"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/log"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/nagios"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/naming"
	"github.com/huitmon/cloudwatch-nagios-bridge/internal/sns"
)

// Placeholders for optional fields a notification may omit. A single
// missing field never aborts the state update; it only degrades the
// human-readable explanation.
const (
	noAlarmName   = "(no AlarmName in notification)"
	noDescription = "(no AlarmDescription in notification)"
	noStateValue  = "(no NewStateValue in notification)"
	noReason      = "(no NewStateReason in notification)"
	noChangeTime  = "(no StateChangeTime in notification)"
	noMetricName  = "(no MetricName in notification)"

	// Substituted for the descriptive part when the alarm name has no
	// space-delimited site token.
	noRemainder = "(malformed AlarmName: no site token delimiter)"
)

const confirmTimeout = 2 * time.Second

// SignatureVerifier abstracts sns.Verifier for tests.
type SignatureVerifier interface {
	Verify(certURL, signatureB64, canonical string) bool
}

// FreshnessRecorder abstracts the heartbeat sink.
type FreshnessRecorder interface {
	Record(ts time.Time, source string) error
}

// Router is the notification state machine. All fields are set once at
// construction; handling is stateless per request.
type Router struct {
	cfg      *config.Receiver
	verifier SignatureVerifier
	sink     nagios.Sink
	fresh    FreshnessRecorder

	confirmClient *http.Client
	now           func() time.Time

	topicGlobs     []glob.Glob
	heartbeatGlobs []glob.Glob
	domainGlob     glob.Glob
}

// New compiles the configured patterns and wires the production sinks.
func New(cfg *config.Receiver) (*Router, error) {
	r := &Router{
		cfg:           cfg,
		verifier:      sns.NewVerifier(),
		sink:          &nagios.PipeSink{Path: cfg.Nagios.CommandFile},
		fresh:         &nagios.FreshnessSink{Path: cfg.Nagios.FreshnessFile},
		confirmClient: &http.Client{Timeout: confirmTimeout},
		now:           time.Now,
	}

	for _, p := range cfg.SNS.AllowedTopics {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "bad allowed_topics pattern %q", p)
		}
		r.topicGlobs = append(r.topicGlobs, g)
	}
	for _, p := range cfg.SNS.HeartbeatSubjects {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "bad heartbeat_subjects pattern %q", p)
		}
		r.heartbeatGlobs = append(r.heartbeatGlobs, g)
	}
	if cfg.SNS.SourceDomain != "" {
		g, err := glob.Compile(cfg.SNS.SourceDomain)
		if err != nil {
			return nil, errors.Wrapf(err, "bad source_domain pattern %q", cfg.SNS.SourceDomain)
		}
		r.domainGlob = g
	}
	return r, nil
}

// Engine builds the HTTP surface: one POST route plus a liveness probe.
func (r *Router) Engine() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/sns", r.Handle)
	engine.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong\n")
	})
	return engine
}

// Handle runs one envelope through the validation and translation state
// machine.
func (r *Router) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusServiceUnavailable, "cannot read request body\n")
		return
	}

	var env sns.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Get().Warn("unparseable notification body", zap.Error(err))
		c.String(http.StatusMethodNotAllowed, "request body is not a notification\n")
		return
	}

	if env.Type == "" {
		log.Get().Warn("envelope missing Type", zap.String("message_id", env.MessageID))
		c.String(http.StatusServiceUnavailable, "envelope missing Type\n")
		return
	}

	if r.cfg.SNS.RestrictByTopic && !r.topicAllowed(env.TopicARN) {
		log.Get().Warn("topic not in allow-list", zap.String("topic_arn", env.TopicARN))
		c.String(http.StatusServiceUnavailable, "topic not allowed\n")
		return
	}

	if r.cfg.SNS.VerifySignature {
		if !r.certDomainAllowed(env.SigningCertURL) {
			log.Get().Warn("signing cert from unexpected domain",
				zap.String("cert_url", env.SigningCertURL))
			c.String(http.StatusServiceUnavailable, "signing certificate not allowed\n")
			return
		}
		if !r.verifier.Verify(env.SigningCertURL, env.Signature, env.CanonicalString()) {
			log.Get().Warn("signature validation failed",
				zap.String("message_id", env.MessageID),
				zap.String("topic_arn", env.TopicARN))
			c.String(http.StatusServiceUnavailable, "signature validation failed\n")
			return
		}
	}

	switch {
	case env.Type == sns.TypeSubscriptionConfirmation:
		r.confirmSubscription(&env)
		c.String(http.StatusOK, "subscription confirmation requested\n")

	case env.Type == sns.TypeNotification && r.isHeartbeat(&env):
		if err := r.fresh.Record(r.now(), env.TopicARN); err != nil {
			log.Get().Error("freshness sink unavailable", zap.Error(err))
			c.String(http.StatusServiceUnavailable, "freshness sink unavailable\n")
			return
		}
		c.String(http.StatusOK, "heartbeat recorded\n")

	case env.Type == sns.TypeNotification:
		r.handleNotification(c, &env)

	default:
		log.Get().Info("ignoring envelope type", zap.String("type", env.Type))
		c.String(http.StatusOK, "ignored\n")
	}
}

func (r *Router) topicAllowed(topicARN string) bool {
	for _, g := range r.topicGlobs {
		if g.Match(topicARN) {
			return true
		}
	}
	return false
}

func (r *Router) certDomainAllowed(certURL string) bool {
	if r.domainGlob == nil {
		return true
	}
	u, err := url.Parse(certURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return r.domainGlob.Match(u.Hostname())
}

func (r *Router) isHeartbeat(env *sns.Envelope) bool {
	for _, g := range r.heartbeatGlobs {
		if g.Match(env.Subject) {
			return true
		}
	}
	return false
}

// confirmSubscription completes the handshake by calling the embedded
// URL. Fire and forget: a failed confirmation just means SNS asks again.
func (r *Router) confirmSubscription(env *sns.Envelope) {
	resp, err := r.confirmClient.Get(env.SubscribeURL)
	if err != nil {
		log.Get().Warn("subscription confirmation call failed",
			zap.String("subscribe_url", env.SubscribeURL),
			zap.Error(err))
		return
	}
	resp.Body.Close()
	log.Get().Info("subscription confirmed", zap.String("topic_arn", env.TopicARN))
}

func (r *Router) handleNotification(c *gin.Context, env *sns.Envelope) {
	sc, err := sns.DecodeStateChange(env.Message)
	if err != nil {
		log.Get().Warn("undecodable alarm state change",
			zap.String("message_id", env.MessageID),
			zap.Error(err))
		c.String(http.StatusServiceUnavailable, "message body is not an alarm state change\n")
		return
	}
	backfill(sc)

	status := MapState(sc.NewStateValue, sc.Trigger.MetricName)

	site := naming.DeriveSiteToken(sc.AlarmName, sc.AWSAccountID)
	host := naming.HostKey{Site: site, Resource: primaryTriggerValue(sc)}.String()
	service := naming.ServiceName(sc.Trigger.MetricName, sc.AlarmName)

	remainder := noRemainder
	if _, rest, found := strings.Cut(sc.AlarmName, " "); found {
		remainder = rest
	} else {
		log.Get().Warn("alarm name has no site token delimiter",
			zap.String("alarm_name", sc.AlarmName))
	}

	info := fmt.Sprintf("%s: %s: %s (at %s)",
		sc.NewStateValue, remainder, sc.NewStateReason, sc.StateChangeTime)
	line := nagios.FormatServiceCheck(r.now(), host, service, status, info)

	if err := r.sink.Submit(line); err != nil {
		log.Get().Error("command sink unavailable", zap.Error(err))
		c.String(http.StatusServiceUnavailable, "command sink unavailable\n")
		return
	}

	log.Get().Info("passive check submitted",
		zap.String("host", host),
		zap.String("service", service),
		zap.String("status", status.String()),
		zap.String("new_state", sc.NewStateValue))
	c.String(http.StatusOK, "notification processed\n")
}

// backfill substitutes placeholders for absent optional fields.
func backfill(sc *sns.StateChange) {
	if sc.AlarmName == "" {
		sc.AlarmName = noAlarmName
	}
	if sc.AlarmDescription == nil || *sc.AlarmDescription == "" {
		d := noDescription
		sc.AlarmDescription = &d
	}
	if sc.NewStateValue == "" {
		sc.NewStateValue = noStateValue
	}
	if sc.NewStateReason == "" {
		sc.NewStateReason = noReason
	}
	if sc.StateChangeTime == "" {
		sc.StateChangeTime = noChangeTime
	}
	if sc.Trigger.MetricName == "" {
		sc.Trigger.MetricName = noMetricName
	}
}

// primaryTriggerValue mirrors the generator's primary-dimension rule so
// the receiver lands passive results on the host the generator defined.
func primaryTriggerValue(sc *sns.StateChange) string {
	if naming.IsInstanceNamespace(sc.Trigger.Namespace) {
		for _, d := range sc.Trigger.Dimensions {
			if d.Name == "InstanceId" {
				return d.Value
			}
		}
		return ""
	}
	if len(sc.Trigger.Dimensions) > 0 {
		return sc.Trigger.Dimensions[0].Value
	}
	return ""
}
