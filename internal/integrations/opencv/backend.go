package opencv

import (
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Backend and target names accepted in the detection config
const (
	BackendDefault = "default"
	BackendCUDA    = "cuda"
	BackendOpenCL  = "opencl"
	TargetCPU      = "cpu"
	TargetCUDA     = "cuda"
	TargetOpenCL   = "opencl"
)

// selectBackend maps the configured backend and target to gocv values.
// "default" picks CUDA when an NVIDIA GPU is visible and the CPU otherwise.
func selectBackend(backend, target string) (gocv.NetBackendType, gocv.NetTargetType) {
	switch backend {
	case "", BackendDefault:
		if haveNvidiaGPU() {
			log.Info("NVIDIA GPU found, using CUDA backend for detection")
			return gocv.NetBackendCUDA, gocv.NetTargetCUDA
		}
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	case BackendCUDA:
		return gocv.NetBackendCUDA, selectTarget(target, gocv.NetTargetCUDA)
	case BackendOpenCL:
		return gocv.NetBackendOpenCV, selectTarget(target, gocv.NetTargetFP32)
	default:
		log.Warnf("Unknown detection backend %q, using default", backend)
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
}

func selectTarget(target string, fallback gocv.NetTargetType) gocv.NetTargetType {
	switch target {
	case TargetCPU:
		return gocv.NetTargetCPU
	case TargetCUDA:
		return gocv.NetTargetCUDA
	case TargetOpenCL:
		return gocv.NetTargetFP32
	case "":
		return fallback
	default:
		log.Warnf("Unknown detection target %q, using CPU", target)
		return gocv.NetTargetCPU
	}
}

// haveNvidiaGPU checks the usual places the NVIDIA container runtime and drivers leave behind
func haveNvidiaGPU() bool {
	if os.Getenv("NVIDIA_VISIBLE_DEVICES") != "" {
		return true
	}
	if runtime.GOOS != "linux" {
		return false
	}
	for _, path := range []string{
		"/usr/local/cuda/lib64/libcudart.so",
		"/usr/lib/x86_64-linux-gnu/libcuda.so",
		"/usr/bin/nvidia-smi",
	} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
