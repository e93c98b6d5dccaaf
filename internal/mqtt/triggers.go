// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package mqtt

// Trigger executed when a machine changed its classified status. The machine
// id is appended as the last topic segment.
const TriggerMachineStatusChanged = "triggers/production/machine/status"

// Trigger executed when a batch schedule generation finished.
const TriggerScheduleGenerated = "triggers/scheduling/generated"

// Trigger executed when the dynamic rescheduler superseded versions.
const TriggerScheduleRevised = "triggers/scheduling/revised"

// Trigger executed when a shift summary row was refreshed.
const TriggerShiftSummaryUpdated = "triggers/production/shift-summary"

// Trigger carrying the refreshed probable-date-of-completion rows.
const TriggerPDCProjected = "triggers/scheduling/pdc"

// Command requesting a fresh batch schedule generation.
const CommandGenerateSchedule = "commands/scheduling/generate"

// Command requesting a rescheduling pass over the logged work.
const CommandReviseSchedule = "commands/scheduling/revise"
