package main

import (
	"flag"
	"log"
	"os"
	"path"

	"github.com/robotalks/rtcsync/pkg/report/mqtt"
	"github.com/robotalks/rtcsync/pkg/rtc"
)

var (
	mqttURL = "mqtt://localhost:1883/"
)

func init() {
	if val := os.Getenv("RTCSYNC_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		switch path.Base(topic) {
		case mqtt.TopicStatus:
			log.Printf("%s: %s", topic, string(payload))
		case mqtt.TopicSet, mqtt.TopicRTC:
			t, err := mqtt.DecodeTimestamp(payload)
			if err != nil {
				log.Printf("%s: bad message: %v", topic, err)
				return
			}
			log.Printf("%s: %s", topic, rtc.FormatTime(t))
		case mqtt.TopicOffset:
			offset, err := mqtt.DecodeOffset(payload)
			if err != nil {
				log.Printf("%s: bad message: %v", topic, err)
				return
			}
			log.Printf("%s: %+v", topic, offset)
		}
	}))
	<-(chan struct{})(nil)
}
