package redis

import "errors"

var ErrReplicaTimeout = errors.New("replicas did not acknowledge in time")
