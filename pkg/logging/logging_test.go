package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInit(t *testing.T) {
	Convey("Given a log file path", t, func() {
		path := filepath.Join(t.TempDir(), "nire.log")

		Convey("When logging is initialized at debug level", func() {
			So(Init("debug", path), ShouldBeNil)
			defer Close()

			log.Info("hello from the test", "key", "value")

			Convey("Then lines reach the file", func() {
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(string(data), ShouldContainSubstring, "hello from the test")
				So(log.GetLevel(), ShouldEqual, log.DebugLevel)
			})
		})

		Convey("When the level is unknown", func() {
			err := Init("chatty", "")

			Convey("Then it is rejected", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
