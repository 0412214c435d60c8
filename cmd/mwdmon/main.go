package main

import (
	"flag"
	"log"
	"os"
	"reflect"

	"github.com/robotalks/mwd.go/pkg/telemetry"
)

var (
	mqttURL = "mqtt://localhost:1883/mwd/"
)

func init() {
	if val := os.Getenv("MWD_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := telemetry.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}

	handler := telemetry.Handler(func(topic string, payload []byte) {
		node, kind := telemetry.SplitTopic(topic)
		msg, err := telemetry.Decode(payload)
		if err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		log.Printf("%s %s: [%s] %s", node, kind,
			reflect.Indirect(reflect.ValueOf(msg)).Type().Name(), msg.String())
	})
	q.Sub("+/"+telemetry.SurveyTopic, handler)
	q.Sub("+/"+telemetry.HoleTopic, handler)
	<-(chan struct{})(nil)
}
