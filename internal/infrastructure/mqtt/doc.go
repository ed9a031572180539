// Package mqtt is the broker client that carries climate state out of the
// process and parameter commands into it.
//
// State is published retained as a State document per device, group and
// installation; commands arrive on set topics and are answered with an
// Ack. The bridge status topic holds online/offline and doubles as the
// last will.
//
// # Topics
//
//	{prefix}/{installation}/state                 installation aggregate (retained)
//	{prefix}/{installation}/device/{id}/state     device state (retained)
//	{prefix}/{installation}/group/{id}/state      group aggregate (retained)
//	{prefix}/{installation}/device/{id}/set       device commands
//	{prefix}/{installation}/group/{id}/set        group commands
//	{prefix}/{installation}/{kind}/{id}/ack       command results
//	{prefix}/bridge/status                        online/offline
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) for any broker off the local host
//   - Restrict the set topics with broker ACLs; anyone who can publish
//     there can change setpoints
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishState(client.Topics().DeviceState("inst1", "z1"), mqtt.State{
//	    ID: "z1", Type: "zone", Data: zone.Data(),
//	})
package mqtt
