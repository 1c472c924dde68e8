package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry        = (*ProcessorRegistry)(nil)
	_ MetricsRecorder = NopMetricsRecorder{}
	_ RawConfigLoader = YAMLConfigLoader{}
	_ RawConfigLoader = StaticConfigLoader{}
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
