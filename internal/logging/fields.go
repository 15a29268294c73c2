package logging

import "github.com/sirupsen/logrus"

// RequestFields are attached to every gateway call log line.
func RequestFields(requestID, method, path string) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	}
}

// GenerationFields identify an asset cache generation in lifecycle logs.
func GenerationFields(phase, generation string) logrus.Fields {
	return logrus.Fields{
		"phase":      phase,
		"generation": generation,
	}
}

// FetchFields describe one intercepted asset fetch.
func FetchFields(url string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"url":       url,
		"cache_hit": cacheHit,
	}
}
