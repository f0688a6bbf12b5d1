package bag

// Well-known keys the core reads from the host-owned bag.
const (
	KeyWidth  = "Width"
	KeyHeight = "Height"

	KeyEnableInterp = "DLSSG.EnableInterp"
	KeyIsRecording  = "DLSSG.IsRecording"
	KeyCmdQueue     = "DLSSG.CmdQueue"
	KeyCmdAlloc     = "DLSSG.CmdAlloc"

	KeyDepth     = "DLSSG.Depth"
	KeyMVecs     = "DLSSG.MVecs"
	KeyBackbuffer = "DLSSG.Backbuffer"
	KeyHUDLess    = "DLSSG.HUDLess"

	KeyOutputReal        = "DLSSG.OutputReal"
	KeyOutputInterpolated = "DLSSG.OutputInterpolated"

	KeyDepthSubrectWidth  = "DLSSG.DepthSubrectWidth"
	KeyDepthSubrectHeight = "DLSSG.DepthSubrectHeight"
	KeyMVecsSubrectWidth  = "DLSSG.MVecsSubrectWidth"
	KeyMVecsSubrectHeight = "DLSSG.MVecsSubrectHeight"

	KeyMvecScaleX = "DLSSG.MvecScaleX"
	KeyMvecScaleY = "DLSSG.MvecScaleY"

	KeyJitterOffsetX = "DLSSG.JitterOffsetX"
	KeyJitterOffsetY = "DLSSG.JitterOffsetY"

	KeyColorBuffersHDR = "DLSSG.ColorBuffersHDR"
	KeyDepthInverted   = "DLSSG.DepthInverted"
	KeyReset           = "DLSSG.Reset"
	KeyMVecJittered    = "DLSSG.MVecJittered"

	KeyCameraFOV  = "DLSSG.CameraFOV"
	KeyCameraNear = "DLSSG.CameraNear"
	KeyCameraFar  = "DLSSG.CameraFar"

	KeyResourceAllocCallback   = "ResourceAllocCallback"
	KeyResourceReleaseCallback = "ResourceReleaseCallback"

	KeyCreateTimelineSyncObjectsCallback = "DLSSG.CreateTimelineSyncObjectsCallback"
	KeySyncSignalCallback                = "DLSSG.SyncSignalCallback"
	KeySyncWaitCallback                  = "DLSSG.SyncWaitCallback"
	KeySyncFlushCallback                 = "DLSSG.SyncFlushCallback"

	// KeyUIMask is supplemental: an optional UI-mask texture, consumed
	// only when config.Debug.EnableUIMask is on and the host has not
	// supplied its own DLSSG.HUDLess.
	KeyUIMask = "DLSSG.UIMask"
)

// Keys the core writes back into the bag.
const (
	KeyMustCallEval        = "DLSSG.MustCallEval"
	KeyBurstCaptureRunning = "DLSSG.BurstCaptureRunning"
	KeyFlushRequired       = "DLSSG.FlushRequired"
)
