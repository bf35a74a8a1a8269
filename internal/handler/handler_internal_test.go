package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestWriteJSON_EncodeFailureUsesInjectedLogger(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	rr := httptest.NewRecorder()

	writeJSON(rr, log.WithField("handler", "state"), http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected an error entry on the injected logger")
	}
	if entry.Level != logrus.ErrorLevel || entry.Data["handler"] != "state" {
		t.Errorf("entry: level=%s data=%v", entry.Level, entry.Data)
	}
}
