package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_INFLUX       = "influx"
	ACTOR_ID_DEVICE       = "device"
)

type RecordCreatedRequest struct {
	ActorRequestMixIn
	Record DeviceRecord
}

type RecordRemovedRequest struct {
	ActorRequestMixIn
	IP string
}

type RecordRemovedResponse struct {
	ActorResponseMixIn
	Stopped int
}

type SwitchCommandRequest struct {
	ActorRequestMixIn
	On bool
}

type SwitchCommandResponse struct {
	ActorResponseMixIn
	State EntityState
}

type GetEntityStatesRequest struct {
	ActorRequestMixIn
	IP string
}

type GetEntityStatesResponse struct {
	ActorResponseMixIn
	States []EntityState
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// RemoveDiscoveryRequest clears the retained discovery documents of the given entities.
type RemoveDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
