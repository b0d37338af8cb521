package mqtt

import (
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	durpb "github.com/golang/protobuf/ptypes/duration"
	tspb "github.com/golang/protobuf/ptypes/timestamp"
)

// Topic suffixes under <prefix><id>/.
const (
	TopicSet    = "set"
	TopicRTC    = "rtc"
	TopicOffset = "offset"
	TopicStatus = "status"
)

// Status payloads, retained.
const (
	StatusRunning      = "running"
	StatusDisconnected = "disconnected"
	StatusStopped      = "stopped"
	StatusOffline      = "offline"
)

// Publisher publishes a message to a topic relative to its prefix.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool)
}

// Reporter implements report.Reporter by publishing samples.
// Set and read times are google.protobuf.Timestamp, offsets are
// google.protobuf.Duration, status is plain text.
type Reporter struct {
	ID        string
	Publisher Publisher

	disconnected bool
}

// Running implements report.Reporter.
func (r *Reporter) Running(path string) {
	r.status(StatusRunning)
}

// TimeSet implements report.Reporter.
func (r *Reporter) TimeSet(t time.Time) {
	r.publishTime(TopicSet, t)
}

// TimeRead implements report.Reporter.
func (r *Reporter) TimeRead(t time.Time, offset time.Duration) {
	r.publishTime(TopicRTC, t)
	r.publishProto(TopicOffset, ptypes.DurationProto(offset))
}

// Disconnected implements report.Reporter.
func (r *Reporter) Disconnected(path string) {
	r.disconnected = true
	r.status(StatusDisconnected)
}

// ShuttingDown implements report.Reporter.
func (r *Reporter) ShuttingDown() {}

// Stopped implements report.Reporter.
// A disconnected status is kept.
func (r *Reporter) Stopped(err error) {
	if !r.disconnected {
		r.status(StatusStopped)
	}
}

func (r *Reporter) topic(suffix string) string {
	return r.ID + "/" + suffix
}

func (r *Reporter) status(s string) {
	r.Publisher.Publish(r.topic(TopicStatus), []byte(s), true)
}

func (r *Reporter) publishTime(suffix string, t time.Time) {
	ts, err := ptypes.TimestampProto(t)
	if err != nil {
		glog.Warningf("%s: %v", suffix, err)
		return
	}
	r.publishProto(suffix, ts)
}

func (r *Reporter) publishProto(suffix string, msg proto.Message) {
	payload, err := proto.Marshal(msg)
	if err != nil {
		glog.Warningf("%s: %v", suffix, err)
		return
	}
	r.Publisher.Publish(r.topic(suffix), payload, false)
}

// DecodeTimestamp decodes a payload published on set or rtc topics.
func DecodeTimestamp(payload []byte) (time.Time, error) {
	var ts tspb.Timestamp
	if err := proto.Unmarshal(payload, &ts); err != nil {
		return time.Time{}, err
	}
	return ptypes.Timestamp(&ts)
}

// DecodeOffset decodes a payload published on offset topics.
func DecodeOffset(payload []byte) (time.Duration, error) {
	var d durpb.Duration
	if err := proto.Unmarshal(payload, &d); err != nil {
		return 0, err
	}
	return ptypes.Duration(&d)
}
