// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Mock mqtt client that records published topics and can be used for testing.
type MockClient struct {
	Published []string
}

func (m *MockClient) Publish(topic string, payload any) {
	m.Published = append(m.Published, topic)
}

func (m *MockClient) Connect() error {
	return nil
}

func (m *MockClient) Disconnect() {
	// Do nothing
}

func (m *MockClient) Subscribe(topic string, callback pahomqtt.MessageHandler) error {
	return nil
}
