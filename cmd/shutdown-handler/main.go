package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/cloud/aws"
	"github.com/mjudeikis/classroom-labs/pkg/terminator"
)

// The handler is deployed twice, once per action, and is the target of the
// shutdown rules created by `classroom provision`.
func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetReportCaller(true)
	log := logrus.NewEntry(logrus.StandardLogger())

	action := terminator.Action(os.Getenv("SHUTDOWN_ACTION"))
	if action == "" {
		action = terminator.ActionStop
	}

	a, err := aws.New(context.Background(), log, os.Getenv("AWS_REGION"))
	if err != nil {
		log.Fatal(err)
	}
	h, err := terminator.New(log, a, action)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("starting the %s handler", action)
	lambda.Start(h.Handle)
}
