package telegram

import "deskbridge/pkg/bridge"

const (
	// DriverType is the driver type token used in configuration.
	DriverType = "telegram"
	// DriverPlatform is the platform stamped on events and sinks.
	DriverPlatform bridge.Platform = bridge.PlatformTelegram
)

func bridgeSink(name string) bridge.EventSink {
	return bridge.EventSink{Platform: DriverPlatform, ID: name}
}
